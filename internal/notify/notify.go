// Package notify abstracts outbound user notifications. The circulation
// engine only needs to know whether a reminder went out; delivery mechanics,
// including resolving the user's contact details, live behind the Gateway
// interface.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Reminder carries everything a delivery channel needs to nudge a user about
// a loan. Overdue notices fill DaysOverdue and Amount; courtesy due-soon
// notices fill DaysLeft and CanExtend.
type Reminder struct {
	UserID      string
	BookTitle   string
	DueDate     time.Time
	DaysLeft    int
	DaysOverdue int
	// CanExtend tells the user the loan is still eligible for an extension.
	CanExtend bool
	// Amount is the accrued fine in VND.
	Amount int64
}

// Gateway delivers reminders. Implementations must only return nil when the
// reminder was actually handed off; the sweep advances reminder counters
// strictly on success.
type Gateway interface {
	SendOverdueReminder(ctx context.Context, r Reminder) error
	SendDueReminder(ctx context.Context, r Reminder) error
}

// LogGateway writes reminders to the log instead of delivering them.
// It is the default gateway until a real channel (email, push) is wired in.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway creates a gateway that logs every reminder.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) SendOverdueReminder(ctx context.Context, r Reminder) error {
	g.logger.InfoContext(ctx, "overdue reminder",
		"user_id", r.UserID,
		"book_title", r.BookTitle,
		"due_date", r.DueDate.Format(time.RFC3339),
		"days_overdue", r.DaysOverdue,
		"amount", r.Amount,
	)
	return nil
}

func (g *LogGateway) SendDueReminder(ctx context.Context, r Reminder) error {
	g.logger.InfoContext(ctx, "due-soon reminder",
		"user_id", r.UserID,
		"book_title", r.BookTitle,
		"due_date", r.DueDate.Format(time.RFC3339),
		"days_left", r.DaysLeft,
		"can_extend", r.CanExtend,
	)
	return nil
}
