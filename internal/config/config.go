// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App         AppConfig
	Logger      LoggerConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Circulation CirculationConfig
	Fines       FinesConfig
	Sweep       SweepConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Name         string
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
}

// DatabaseConfig holds SQLite database configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file location (default: ~/Circulate/circulate.db).
	Path string
}

// CirculationConfig holds lending policy configuration.
type CirculationConfig struct {
	// LoanPeriodDays is how long a loan runs before it is due (default: 14).
	LoanPeriodDays int
	// MaxBorrowLimit is the default per-user cap on concurrently borrowed books (default: 5).
	MaxBorrowLimit int
	// MaxExtensions caps how many times one loan may be extended (default: 2).
	MaxExtensions int
	// ExtensionDays is how far a default extension pushes the due date (default: 7).
	ExtensionDays int
}

// FinesConfig holds fine policy configuration. Amounts are in VND.
type FinesConfig struct {
	// DailyFine is charged per day a loan runs overdue (default: 5000).
	DailyFine int64
	// MaxFineAmount caps a single lateness fine (default: 500000).
	MaxFineAmount int64
	// PaymentDueDays is the payment window granted on a new fine (default: 30).
	PaymentDueDays int
	// BorrowBlockThreshold: users owing more than this cannot request new loans (default: 50000).
	BorrowBlockThreshold int64
	// AutoBlockThreshold: accounts owing more than this are blocked outright (default: 100000).
	AutoBlockThreshold int64
	// EscalationReminderThreshold is how many unacknowledged reminders precede escalation (default: 3).
	EscalationReminderThreshold int
}

// SweepConfig holds overdue sweep scheduling configuration.
type SweepConfig struct {
	// Enabled allows disabling the background sweep entirely (default: true).
	Enabled bool
	// Interval between sweep runs (default: 1h).
	Interval time.Duration
	// InitialDelay before the first run after startup (default: 10s).
	InitialDelay time.Duration
	// ReminderInterval is the minimum gap between reminders for one fine (default: 72h).
	ReminderInterval time.Duration
	// DueSoonDays is how many days before the due date courtesy reminders
	// start going out (default: 3).
	DueSoonDays int
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	serverName := flag.String("server-name", "", "Name for the server")
	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	dbPath := flag.String("db-path", "", "SQLite database file path")

	loanPeriodDays := flag.String("loan-period-days", "", "Loan period in days (default: 14)")
	maxBorrowLimit := flag.String("max-borrow-limit", "", "Default per-user borrow cap (default: 5)")

	dailyFine := flag.String("daily-fine", "", "Fine per overdue day in VND (default: 5000)")
	maxFineAmount := flag.String("max-fine-amount", "", "Cap on a single lateness fine in VND (default: 500000)")
	finePaymentDueDays := flag.String("fine-payment-due-days", "", "Payment window on new fines in days (default: 30)")
	escalationThreshold := flag.String("escalation-reminder-threshold", "", "Reminders before escalation (default: 3)")

	sweepEnabled := flag.String("sweep-enabled", "", "Enable background overdue sweep (default: true)")
	sweepInterval := flag.String("sweep-interval", "", "Overdue sweep interval (default: 1h)")
	reminderInterval := flag.String("reminder-interval", "", "Minimum gap between fine reminders (default: 72h)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Name: getConfigValue(*serverName, "SERVER_NAME", "Circulate Server"),
			Port: getConfigValue(*serverPort, "SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Path: getConfigValue(*dbPath, "DATABASE_PATH", ""),
		},
		Circulation: CirculationConfig{
			LoanPeriodDays: getIntConfigValue(*loanPeriodDays, "LOAN_PERIOD_DAYS", 14),
			MaxBorrowLimit: getIntConfigValue(*maxBorrowLimit, "MAX_BORROW_LIMIT", 5),
			MaxExtensions:  getIntConfigValue("", "MAX_EXTENSIONS", 2),
			ExtensionDays:  getIntConfigValue("", "EXTENSION_DAYS", 7),
		},
		Fines: FinesConfig{
			DailyFine:                   getInt64ConfigValue(*dailyFine, "DAILY_FINE", 5000),
			MaxFineAmount:               getInt64ConfigValue(*maxFineAmount, "MAX_FINE_AMOUNT", 500000),
			PaymentDueDays:              getIntConfigValue(*finePaymentDueDays, "FINE_PAYMENT_DUE_DAYS", 30),
			BorrowBlockThreshold:        getInt64ConfigValue("", "BORROW_BLOCK_THRESHOLD", 50000),
			AutoBlockThreshold:          getInt64ConfigValue("", "AUTO_BLOCK_THRESHOLD", 100000),
			EscalationReminderThreshold: getIntConfigValue(*escalationThreshold, "ESCALATION_REMINDER_THRESHOLD", 3),
		},
		Sweep: SweepConfig{
			Enabled:     getBoolConfigValue(*sweepEnabled, "SWEEP_ENABLED", true),
			DueSoonDays: getIntConfigValue("", "DUE_SOON_DAYS", 3),
		},
	}

	// Parse server timeouts.
	var err error
	cfg.Server.ReadTimeout, err = parseDurationValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s")
	if err != nil {
		return nil, fmt.Errorf("invalid read timeout: %w", err)
	}
	cfg.Server.WriteTimeout, err = parseDurationValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s")
	if err != nil {
		return nil, fmt.Errorf("invalid write timeout: %w", err)
	}
	cfg.Server.IdleTimeout, err = parseDurationValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s")
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout: %w", err)
	}

	// Parse sweep intervals.
	cfg.Sweep.Interval, err = parseDurationValue(*sweepInterval, "SWEEP_INTERVAL", "1h")
	if err != nil {
		return nil, fmt.Errorf("invalid sweep interval: %w", err)
	}
	cfg.Sweep.InitialDelay, err = parseDurationValue("", "SWEEP_INITIAL_DELAY", "10s")
	if err != nil {
		return nil, fmt.Errorf("invalid sweep initial delay: %w", err)
	}
	cfg.Sweep.ReminderInterval, err = parseDurationValue(*reminderInterval, "REMINDER_INTERVAL", "72h")
	if err != nil {
		return nil, fmt.Errorf("invalid reminder interval: %w", err)
	}

	// Expand and validate database path.
	if err := cfg.expandDatabasePath(); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Circulation.LoanPeriodDays <= 0 {
		return fmt.Errorf("loan period must be positive, got %d", c.Circulation.LoanPeriodDays)
	}
	if c.Circulation.MaxBorrowLimit <= 0 {
		return fmt.Errorf("borrow limit must be positive, got %d", c.Circulation.MaxBorrowLimit)
	}
	if c.Fines.DailyFine < 0 || c.Fines.MaxFineAmount < 0 {
		return errors.New("fine amounts cannot be negative")
	}
	if c.Fines.EscalationReminderThreshold <= 0 {
		return fmt.Errorf("escalation reminder threshold must be positive, got %d", c.Fines.EscalationReminderThreshold)
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty after expansion")
	}

	return nil
}

// expandDatabasePath expands ~ and makes the path absolute.
// Defaults to ~/Circulate/circulate.db.
func (c *Config) expandDatabasePath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Circulate", "circulate.db")

	expanded, err := expandPath(c.Database.Path, defaultPath)
	if err != nil {
		return err
	}
	c.Database.Path = expanded
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getInt64ConfigValue returns an int64 from flag, env var, or default.
func getInt64ConfigValue(flagValue, envKey string, defaultValue int64) int64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int64
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// parseDurationValue resolves a duration from flag, env var, or default string.
func parseDurationValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", strValue, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
