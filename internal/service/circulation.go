// Package service provides the business logic layer for the Circulate
// lending system: the borrow lifecycle, the fine ledger, user standing, and
// the overdue sweep.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/errors"
	"github.com/circulateapp/circulate-server/internal/id"
	"github.com/circulateapp/circulate-server/internal/store/sqlite"
)

// CirculationService drives the loan state machine. Every mutation validates
// against domain.LoanStatus transitions and runs in a single transaction.
type CirculationService struct {
	store  *sqlite.Store
	fines  *FineService
	cfg    *config.Config
	logger *slog.Logger
}

// NewCirculationService creates a new circulation service.
func NewCirculationService(store *sqlite.Store, fines *FineService, cfg *config.Config, logger *slog.Logger) *CirculationService {
	return &CirculationService{
		store:  store,
		fines:  fines,
		cfg:    cfg,
		logger: logger,
	}
}

// ApprovalResult reports a confirmed borrow.
type ApprovalResult struct {
	Loan *domain.Loan `json:"loan"`
	Book *domain.Book `json:"book"`
}

// ReturnResult reports a confirmed return, including any lateness fine
// issued in the same transaction.
type ReturnResult struct {
	Loan     *domain.Loan `json:"loan"`
	DaysLate int          `json:"days_late"`
	Fine     *domain.Fine `json:"fine,omitempty"`
}

// RequestBorrow creates a requested loan for the user. All eligibility
// checks run before any row is written: a user at their limit, blocked,
// owing too much, or holding an overdue or duplicate loan gets an error and
// no loan record.
func (s *CirculationService) RequestBorrow(ctx context.Context, userID, bookID string) (*domain.Loan, error) {
	var loan *domain.Loan
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		status, err := tx.EnsureUserStatus(ctx, userID, s.cfg.Circulation.MaxBorrowLimit)
		if err != nil {
			return fmt.Errorf("ensure user status: %w", err)
		}

		if status.IsBlocked() {
			return errors.Forbiddenf("account is blocked: %s", status.BlockReason)
		}
		if status.AccountStatus == domain.AccountSuspended {
			return errors.Forbidden("account is suspended")
		}
		if status.TotalOutstandingFines > s.cfg.Fines.BorrowBlockThreshold {
			return errors.Forbiddenf("outstanding fines of %d exceed the borrowing threshold", status.TotalOutstandingFines)
		}

		now := time.Now().UTC()
		active, err := tx.CountActiveLoans(ctx, userID)
		if err != nil {
			return fmt.Errorf("count active loans: %w", err)
		}
		if active >= status.MaxBorrowLimit {
			return errors.LimitExceededf("user holds %d of %d allowed loans", active, status.MaxBorrowLimit)
		}

		overdue, err := tx.HasOverdueLoan(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("check overdue loans: %w", err)
		}
		if overdue {
			return errors.Forbidden("cannot borrow while an overdue loan is outstanding")
		}

		duplicate, err := tx.HasOpenLoanForBook(ctx, userID, bookID)
		if err != nil {
			return fmt.Errorf("check duplicate loan: %w", err)
		}
		if duplicate {
			return errors.Conflictf("user already has an open loan for book %s", bookID)
		}

		book, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if !book.IsAvailable() {
			return errors.OutOfStockf("no copies of %q available", book.Title)
		}

		loan = &domain.Loan{
			UserID:     userID,
			BookID:     bookID,
			BorrowDate: now,
			DueDate:    now.AddDate(0, 0, s.cfg.Circulation.LoanPeriodDays),
			Status:     domain.LoanRequested,
		}
		loan.ID = id.MustGenerate(id.PrefixLoan)
		loan.InitTimestamps()

		return tx.CreateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "borrow requested",
		"loan_id", loan.ID, "user_id", userID, "book_id", bookID)
	return loan, nil
}

// Approve confirms a requested loan: the copy leaves the shelf, the user's
// borrow counter rises, and the due date clock starts. Fails with OutOfStock
// when no copy is available and InvalidTransition when the loan is not in
// requested status.
func (s *CirculationService) Approve(ctx context.Context, actorID, loanID string) (*ApprovalResult, error) {
	result := &ApprovalResult{}
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(domain.LoanBorrowed) {
			return errors.InvalidTransition(loan.Status.TransitionError(domain.LoanBorrowed))
		}

		if err := tx.DecrementAvailable(ctx, loan.BookID); err != nil {
			return err
		}

		now := time.Now().UTC()
		loan.Status = domain.LoanBorrowed
		loan.ConfirmedDate = &now
		// The loan period runs from the day the copy actually leaves the
		// shelf, not the day it was requested.
		loan.DueDate = now.AddDate(0, 0, s.cfg.Circulation.LoanPeriodDays)
		loan.UpdatedAt = now
		if err := tx.TransitionLoan(ctx, loan, domain.LoanRequested); err != nil {
			return err
		}

		if _, err := tx.EnsureUserStatus(ctx, loan.UserID, s.cfg.Circulation.MaxBorrowLimit); err != nil {
			return fmt.Errorf("ensure user status: %w", err)
		}
		if err := tx.IncrementBorrowCount(ctx, loan.UserID); err != nil {
			return fmt.Errorf("increment borrow count: %w", err)
		}

		result.Loan = loan
		result.Book, err = tx.GetBook(ctx, loan.BookID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "borrow approved",
		"loan_id", loanID, "actor_id", actorID, "due_date", result.Loan.DueDate.Format(time.RFC3339))
	return result, nil
}

// Cancel withdraws or rejects a requested loan. No inventory moved at
// request time, so none moves back.
func (s *CirculationService) Cancel(ctx context.Context, actorID, loanID, notes string) (*domain.Loan, error) {
	var loan *domain.Loan
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		var err error
		loan, err = tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(domain.LoanCancelled) {
			return errors.InvalidTransition(loan.Status.TransitionError(domain.LoanCancelled))
		}

		loan.Status = domain.LoanCancelled
		if notes != "" {
			loan.Notes = notes
		}
		loan.UpdatedAt = time.Now().UTC()
		return tx.TransitionLoan(ctx, loan, domain.LoanRequested)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "borrow cancelled", "loan_id", loanID, "actor_id", actorID)
	return loan, nil
}

// Extend pushes a borrowed loan's due date out before it runs overdue. A nil
// until extends by the configured default; an explicit date must land after
// the current due date. Extensions per loan are capped, and a loan already
// overdue settles its lateness fine instead of extending.
func (s *CirculationService) Extend(ctx context.Context, actorID, loanID string, until *time.Time) (*domain.Loan, error) {
	var loan *domain.Loan
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		var err error
		loan, err = tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != domain.LoanBorrowed {
			return errors.InvalidTransitionf("cannot extend loan in status %s; only borrowed loans extend", loan.Status)
		}

		now := time.Now().UTC()
		if loan.IsOverdue(now) {
			return errors.Validationf("loan %s is %d days overdue and can no longer be extended", loanID, loan.OverdueDays(now))
		}
		if loan.ExtensionCount >= s.cfg.Circulation.MaxExtensions {
			return errors.LimitExceededf("loan %s already used its %d extensions", loanID, s.cfg.Circulation.MaxExtensions)
		}

		newDue := loan.DueDate.AddDate(0, 0, s.cfg.Circulation.ExtensionDays)
		if until != nil {
			if !until.After(loan.DueDate) {
				return errors.Validation("new due date must be after the current due date")
			}
			newDue = until.UTC()
		}

		if err := tx.ExtendLoan(ctx, loanID, newDue, now); err != nil {
			return err
		}
		loan, err = tx.GetLoan(ctx, loanID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "loan extended",
		"loan_id", loanID, "actor_id", actorID,
		"due_date", loan.DueDate.Format(time.RFC3339),
		"extension_count", loan.ExtensionCount)
	return loan, nil
}

// ConfirmReturn brings a borrowed copy home: restocks the book, lowers the
// user's borrow counter, and, when the return is late, issues a pending
// lateness fine in the same transaction.
func (s *CirculationService) ConfirmReturn(ctx context.Context, actorID, loanID string) (*ReturnResult, error) {
	result := &ReturnResult{}
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(domain.LoanReturned) {
			return errors.InvalidTransition(loan.Status.TransitionError(domain.LoanReturned))
		}

		now := time.Now().UTC()
		result.DaysLate = loan.OverdueDays(now)

		loan.Status = domain.LoanReturned
		loan.ReturnDate = &now
		loan.UpdatedAt = now
		if err := tx.TransitionLoan(ctx, loan, domain.LoanBorrowed); err != nil {
			return err
		}
		if err := tx.IncrementAvailable(ctx, loan.BookID); err != nil {
			return err
		}
		if err := tx.DecrementBorrowCount(ctx, loan.UserID); err != nil {
			return err
		}

		if result.DaysLate > 0 {
			amount := latenessAmount(result.DaysLate, s.cfg.Fines)
			result.Fine, err = s.fines.issueTx(ctx, tx, actorID, IssueFineRequest{
				UserID:      loan.UserID,
				LoanID:      loan.ID,
				Amount:      amount,
				Reason:      ReasonOverdue,
				Description: fmt.Sprintf("returned %d days late", result.DaysLate),
			}, now)
			if err != nil {
				return err
			}
		}

		result.Loan = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "return confirmed",
		"loan_id", loanID, "actor_id", actorID, "days_late", result.DaysLate)
	return result, nil
}

// ReportLost marks a borrowed copy as gone for good. The copy is not
// restocked; any replacement fine is issued separately.
func (s *CirculationService) ReportLost(ctx context.Context, actorID, loanID, notes string) (*domain.Loan, error) {
	return s.closeUnreturned(ctx, actorID, loanID, domain.LoanLost, notes)
}

// ReportDamaged marks a borrowed copy as returned unusable. Like a lost
// copy, it does not go back on the shelf.
func (s *CirculationService) ReportDamaged(ctx context.Context, actorID, loanID, notes string) (*domain.Loan, error) {
	return s.closeUnreturned(ctx, actorID, loanID, domain.LoanDamaged, notes)
}

func (s *CirculationService) closeUnreturned(ctx context.Context, actorID, loanID string, target domain.LoanStatus, notes string) (*domain.Loan, error) {
	var loan *domain.Loan
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		var err error
		loan, err = tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransitionTo(target) {
			return errors.InvalidTransition(loan.Status.TransitionError(target))
		}

		loan.Status = target
		if notes != "" {
			loan.Notes = notes
		}
		loan.UpdatedAt = time.Now().UTC()
		if err := tx.TransitionLoan(ctx, loan, domain.LoanBorrowed); err != nil {
			return err
		}
		// The user's slot frees up even though the copy never came back.
		return tx.DecrementBorrowCount(ctx, loan.UserID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WarnContext(ctx, "loan closed without return",
		"loan_id", loanID, "status", string(target), "actor_id", actorID)
	return loan, nil
}

// GetLoan retrieves a loan by ID.
func (s *CirculationService) GetLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	return s.store.GetLoan(ctx, loanID)
}

// ListUserLoans returns a user's loans, newest first.
func (s *CirculationService) ListUserLoans(ctx context.Context, userID string) ([]*domain.Loan, error) {
	return s.store.ListLoansByUser(ctx, userID)
}

// ListBookLoans returns a book's loans, newest first.
func (s *CirculationService) ListBookLoans(ctx context.Context, bookID string) ([]*domain.Loan, error) {
	return s.store.ListLoansByBook(ctx, bookID)
}

// AllowedTransitions reports which statuses a loan in the given status may
// move to.
func (s *CirculationService) AllowedTransitions(status domain.LoanStatus) ([]domain.LoanStatus, error) {
	if !status.Valid() {
		return nil, errors.Validationf("unknown loan status %q", status)
	}
	return status.AllowedTransitions(), nil
}

// latenessAmount computes the fine for a late loan, capped at the
// configured maximum.
func latenessAmount(daysLate int, cfg config.FinesConfig) int64 {
	amount := int64(daysLate) * cfg.DailyFine
	if amount > cfg.MaxFineAmount {
		amount = cfg.MaxFineAmount
	}
	return amount
}
