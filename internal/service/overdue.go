package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/notify"
	"github.com/circulateapp/circulate-server/internal/store/sqlite"
)

// OverdueService sweeps borrowed loans past their due date: issues lateness
// fines, grows them as days accumulate, sends reminders, and escalates fines
// whose reminders go unacknowledged. Each loan is processed in its own
// transaction so one bad record never sinks the batch, and every step is
// idempotent so re-running a sweep is always safe.
type OverdueService struct {
	store   *sqlite.Store
	fines   *FineService
	gateway notify.Gateway
	cfg     *config.Config
	logger  *slog.Logger

	// Worker management
	ctx    context.Context //nolint:containedctx // Context needed for worker lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOverdueService creates a new overdue sweep service.
func NewOverdueService(store *sqlite.Store, fines *FineService, gateway notify.Gateway, cfg *config.Config, logger *slog.Logger) *OverdueService {
	ctx, cancel := context.WithCancel(context.Background())
	return &OverdueService{
		store:   store,
		fines:   fines,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SweepFailure records one loan the sweep could not process.
type SweepFailure struct {
	LoanID string `json:"loan_id"`
	Reason string `json:"reason"`
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

// Start begins the background sweep worker.
func (s *OverdueService) Start() {
	if !s.cfg.Sweep.Enabled {
		s.logger.Info("overdue sweep disabled, not starting worker")
		return
	}

	s.logger.Info("starting overdue sweep worker",
		slog.Duration("interval", s.cfg.Sweep.Interval),
		slog.Duration("initial_delay", s.cfg.Sweep.InitialDelay),
	)
	s.wg.Add(1)
	go s.worker()
}

// Stop gracefully shuts down the sweep worker, letting an in-flight loan
// finish its transaction.
func (s *OverdueService) Stop() {
	s.logger.Info("stopping overdue sweep worker")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("overdue sweep worker stopped")
}

func (s *OverdueService) worker() {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.Sweep.InitialDelay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}

	s.sweepAndLog()

	ticker := time.NewTicker(s.cfg.Sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog()
		}
	}
}

func (s *OverdueService) sweepAndLog() {
	result, err := s.RunSweep(s.ctx)
	if err != nil {
		s.logger.Error("overdue sweep failed", "error", err)
	} else {
		s.logger.Info("overdue sweep finished",
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
		)
	}

	sent, err := s.RunDueReminders(s.ctx)
	if err != nil {
		s.logger.Error("due reminder pass failed", "error", err)
		return
	}
	s.logger.Info("due reminder pass finished", "sent", sent)
}

// RunSweep processes every overdue loan once. Loans that fail are reported
// in the result; the batch itself never aborts wholesale.
func (s *OverdueService) RunSweep(ctx context.Context) (*SweepResult, error) {
	now := time.Now().UTC()
	loans, err := s.store.ListOverdueLoans(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue loans: %w", err)
	}

	result := &SweepResult{Processed: len(loans)}
	for _, loan := range loans {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := s.processLoan(ctx, loan, now)
		if err != nil && isTransient(err) {
			time.Sleep(250 * time.Millisecond)
			err = s.processLoan(ctx, loan, now)
		}
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SweepFailure{LoanID: loan.ID, Reason: err.Error()})
			s.logger.ErrorContext(ctx, "sweep failed for loan", "loan_id", loan.ID, "error", err)
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// processLoan handles one overdue loan in its own transaction: an open
// lateness fine is found or issued, its amount catches up with the days
// accrued, a reminder goes out when one is due, and a fine whose reminders
// keep going unanswered is escalated. The open-fine lookup is the
// idempotency key: running the sweep twice on the same day changes nothing
// the second time.
func (s *OverdueService) processLoan(ctx context.Context, loan *domain.Loan, now time.Time) error {
	return s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		// Re-read inside the tx; the loan may have been returned since
		// the sweep listed it.
		current, err := tx.GetLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		if !current.IsOverdue(now) {
			return nil
		}

		amount := latenessAmount(current.OverdueDays(now), s.cfg.Fines)

		fine, err := tx.OpenLatenessFineForLoan(ctx, current.ID, ReasonOverdue)
		if err != nil {
			return err
		}
		if fine == nil {
			_, err := s.fines.issueTx(ctx, tx, domain.SystemActorID, IssueFineRequest{
				UserID:      current.UserID,
				LoanID:      current.ID,
				Amount:      amount,
				Reason:      ReasonOverdue,
				Description: fmt.Sprintf("loan overdue by %d days", current.OverdueDays(now)),
			}, now)
			return err
		}

		if amount > fine.Amount {
			if err := tx.UpdateFineAmount(ctx, fine.ID, amount); err != nil {
				return err
			}
			if err := tx.AddOutstandingFines(ctx, fine.UserID, amount-fine.Amount, 0); err != nil {
				return err
			}
			if err := s.fines.appendAction(ctx, tx, fine.ID, domain.SystemActorID, domain.ActionFineUpdated,
				fmt.Sprintf("fine grew to %d after %d days overdue", amount, current.OverdueDays(now)), amount, "", now); err != nil {
				return err
			}
			fine.Amount = amount
		}

		if fine.Status == domain.FinePending && fine.DueDate != nil && now.After(*fine.DueDate) {
			if err := tx.MarkFineStatus(ctx, fine.ID, domain.FineOverdue, "", nil); err != nil {
				return err
			}
			fine.Status = domain.FineOverdue
		}

		if s.reminderDue(fine, now) {
			if err := s.sendReminder(ctx, tx, current, fine, now); err != nil {
				// A failed send is logged and retried next sweep; the
				// counter only moves on success.
				s.logger.WarnContext(ctx, "reminder send failed",
					"fine_id", fine.ID, "user_id", fine.UserID, "error", err)
			} else {
				fine.ReminderCount++
			}
		}

		if fine.Status != domain.FineEscalated && fine.ReminderCount >= s.cfg.Fines.EscalationReminderThreshold {
			reason := fmt.Sprintf("%d reminders without payment", fine.ReminderCount)
			if err := s.fines.escalateTx(ctx, tx, fine, domain.SystemActorID, reason, now); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *OverdueService) reminderDue(fine *domain.Fine, now time.Time) bool {
	if fine.LastReminderDate == nil {
		return true
	}
	return now.Sub(*fine.LastReminderDate) >= s.cfg.Sweep.ReminderInterval
}

func (s *OverdueService) sendReminder(ctx context.Context, tx *sqlite.Tx, loan *domain.Loan, fine *domain.Fine, now time.Time) error {
	book, err := tx.GetBook(ctx, loan.BookID)
	if err != nil {
		return err
	}

	err = s.gateway.SendOverdueReminder(ctx, notify.Reminder{
		UserID:      loan.UserID,
		BookTitle:   book.Title,
		DueDate:     loan.DueDate,
		DaysOverdue: loan.OverdueDays(now),
		Amount:      fine.Amount,
	})
	if err != nil {
		return err
	}

	if err := tx.MarkReminder(ctx, fine.ID, now); err != nil {
		return err
	}
	return s.fines.appendAction(ctx, tx, fine.ID, domain.SystemActorID, domain.ActionReminderSent,
		fmt.Sprintf("overdue reminder sent, %d days late", loan.OverdueDays(now)), fine.Amount, "", now)
}

// RunDueReminders sends a courtesy heads-up for every borrowed loan coming
// due within the configured window, at most one per loan per calendar day.
// Returns the number of reminders actually sent; a failed send is skipped
// and retried on the next pass.
func (s *OverdueService) RunDueReminders(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	loans, err := s.store.ListLoansDueSoon(ctx, now, s.cfg.Sweep.DueSoonDays)
	if err != nil {
		return 0, fmt.Errorf("list loans due soon: %w", err)
	}

	sent := 0
	for _, loan := range loans {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if sameDay(loan.DueReminderDate, now) {
			continue
		}

		if err := s.sendDueReminder(ctx, loan, now); err != nil {
			s.logger.WarnContext(ctx, "due reminder send failed",
				"loan_id", loan.ID, "user_id", loan.UserID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *OverdueService) sendDueReminder(ctx context.Context, loan *domain.Loan, now time.Time) error {
	return s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		// Re-read inside the tx; the loan may have been returned or
		// extended since the pass listed it.
		current, err := tx.GetLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.LoanBorrowed || current.IsOverdue(now) || sameDay(current.DueReminderDate, now) {
			return nil
		}

		book, err := tx.GetBook(ctx, current.BookID)
		if err != nil {
			return err
		}

		err = s.gateway.SendDueReminder(ctx, notify.Reminder{
			UserID:    current.UserID,
			BookTitle: book.Title,
			DueDate:   current.DueDate,
			DaysLeft:  current.DaysUntilDue(now),
			CanExtend: current.CanExtend(s.cfg.Circulation.MaxExtensions, now),
		})
		if err != nil {
			return err
		}
		return tx.MarkDueReminder(ctx, current.ID, now)
	})
}

func sameDay(t *time.Time, now time.Time) bool {
	if t == nil {
		return false
	}
	y1, m1, d1 := t.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// isTransient reports whether the error looks like lock contention worth one
// retry.
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
