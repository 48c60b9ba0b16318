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
	"github.com/circulateapp/circulate-server/internal/validation"
)

// ReasonOverdue marks lateness fines issued automatically when a loan runs
// past its due date. The sweep keys its duplicate check on this reason.
const ReasonOverdue = "overdue"

// autoBlockReason tags blocks the fine ledger applied itself, so resolution
// knows it may lift them and manual blocks stay put.
const autoBlockReason = "outstanding fines exceed limit"

// FineService manages the fine ledger and its append-only audit trail.
type FineService struct {
	store     *sqlite.Store
	cfg       *config.Config
	logger    *slog.Logger
	validator *validation.Validator
}

// NewFineService creates a new fine service.
func NewFineService(store *sqlite.Store, cfg *config.Config, logger *slog.Logger) *FineService {
	return &FineService{
		store:     store,
		cfg:       cfg,
		logger:    logger,
		validator: validation.New(),
	}
}

// IssueFineRequest describes a new fine.
type IssueFineRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	LoanID      string `json:"loan_id"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Reason      string `json:"reason" validate:"required,min=1,max=200"`
	Description string `json:"description"`
	// DueDate is the payment deadline; defaults to now + the configured
	// payment window when nil.
	DueDate *time.Time `json:"due_date"`
}

// FineResolutionResult reports what a resolve actually did.
type FineResolutionResult struct {
	Fine *domain.Fine `json:"fine"`
	// LoanReturned is true when resolving cascaded the linked loan back
	// to returned and restocked the book.
	LoanReturned bool   `json:"loan_returned"`
	BookID       string `json:"book_id,omitempty"`
}

// Issue creates a pending fine, updates the user's outstanding totals, and
// appends the issuance to the audit trail, all in one transaction.
func (s *FineService) Issue(ctx context.Context, actorID string, req IssueFineRequest) (*domain.Fine, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	var fine *domain.Fine
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		var err error
		fine, err = s.issueTx(ctx, tx, actorID, req, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "fine issued",
		"fine_id", fine.ID, "user_id", fine.UserID, "amount", fine.Amount, "reason", fine.Reason)
	return fine, nil
}

// issueTx is the shared transactional core of fine issuance, used by Issue,
// the late-return path, and the overdue sweep.
func (s *FineService) issueTx(ctx context.Context, tx *sqlite.Tx, actorID string, req IssueFineRequest, now time.Time) (*domain.Fine, error) {
	dueDate := req.DueDate
	if dueDate == nil {
		d := now.AddDate(0, 0, s.cfg.Fines.PaymentDueDays)
		dueDate = &d
	}

	fine := &domain.Fine{
		UserID:      req.UserID,
		LoanID:      req.LoanID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		Description: req.Description,
		Status:      domain.FinePending,
		FineDate:    now,
		DueDate:     dueDate,
	}
	fine.ID = id.MustGenerate(id.PrefixFine)
	fine.InitTimestamps()

	if err := tx.CreateFine(ctx, fine); err != nil {
		return nil, fmt.Errorf("create fine: %w", err)
	}

	if _, err := tx.EnsureUserStatus(ctx, req.UserID, s.cfg.Circulation.MaxBorrowLimit); err != nil {
		return nil, fmt.Errorf("ensure user status: %w", err)
	}
	if err := tx.AddOutstandingFines(ctx, req.UserID, req.Amount, 1); err != nil {
		return nil, fmt.Errorf("update outstanding fines: %w", err)
	}

	if err := s.appendAction(ctx, tx, fine.ID, actorID, domain.ActionFineIssued,
		fmt.Sprintf("fine issued: %s", req.Reason), req.Amount, req.Description, now); err != nil {
		return nil, err
	}

	if err := s.autoBlockTx(ctx, tx, fine, now); err != nil {
		return nil, err
	}

	return fine, nil
}

// autoBlockTx blocks the account when its outstanding debt crossed the
// configured ceiling.
func (s *FineService) autoBlockTx(ctx context.Context, tx *sqlite.Tx, fine *domain.Fine, now time.Time) error {
	status, err := tx.GetUserStatus(ctx, fine.UserID)
	if err != nil {
		return err
	}
	if status.IsBlocked() || status.TotalOutstandingFines <= s.cfg.Fines.AutoBlockThreshold {
		return nil
	}

	if err := tx.SetAccountStatus(ctx, fine.UserID, domain.AccountBlocked, autoBlockReason, nil); err != nil {
		return fmt.Errorf("block account: %w", err)
	}
	if err := s.appendAction(ctx, tx, fine.ID, domain.SystemActorID, domain.ActionAccountBlocked,
		fmt.Sprintf("account blocked: outstanding fines %d exceed %d", status.TotalOutstandingFines, s.cfg.Fines.AutoBlockThreshold),
		status.TotalOutstandingFines, "", now); err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "account auto-blocked over outstanding fines",
		"user_id", fine.UserID, "outstanding", status.TotalOutstandingFines)
	return nil
}

// Resolve settles an open fine as paid or waived. This is the only code path
// that runs the return cascade: when the linked loan is still out, the loan
// moves to returned, the copy goes back on the shelf, and the user's borrow
// counter drops, atomically with the fine update and exactly one audit row.
// A second resolve of the same fine fails with AlreadyProcessed and leaves
// no side effects.
func (s *FineService) Resolve(ctx context.Context, actorID, fineID string, outcome domain.FineOutcome, notes string) (*FineResolutionResult, error) {
	if !outcome.Valid() {
		return nil, errors.Validationf("unknown outcome %q", outcome)
	}

	result := &FineResolutionResult{}
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		fine, err := tx.GetFine(ctx, fineID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		var paidDate *time.Time
		if outcome == domain.OutcomePaid {
			paidDate = &now
		}

		// The open-status guard in ResolveFine is what makes the whole
		// cascade at-most-once.
		if err := tx.ResolveFine(ctx, fineID, outcome.Status(), paidDate); err != nil {
			return err
		}

		if fine.LoanID != "" {
			returned, err := s.cascadeReturnTx(ctx, tx, fine.LoanID, now)
			if err != nil {
				return err
			}
			if returned != "" {
				result.LoanReturned = true
				result.BookID = returned
			}
		}

		if err := tx.AddOutstandingFines(ctx, fine.UserID, -fine.Amount, -1); err != nil {
			return fmt.Errorf("update outstanding fines: %w", err)
		}
		if err := s.autoUnblockTx(ctx, tx, fine.UserID); err != nil {
			return err
		}

		actionType := domain.ActionPaymentReceived
		description := "payment received"
		if outcome == domain.OutcomeWaived {
			actionType = domain.ActionFineWaived
			description = "fine waived"
		}
		if err := s.appendAction(ctx, tx, fine.ID, actorID, actionType, description, fine.Amount, notes, now); err != nil {
			return err
		}

		result.Fine, err = tx.GetFine(ctx, fineID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "fine resolved",
		"fine_id", fineID, "outcome", string(outcome), "loan_returned", result.LoanReturned)
	return result, nil
}

// cascadeReturnTx brings a still-borrowed loan home as part of fine
// resolution. Returns the book ID when the cascade ran, empty when the loan
// had already reached a terminal status and nothing happened.
func (s *FineService) cascadeReturnTx(ctx context.Context, tx *sqlite.Tx, loanID string, now time.Time) (string, error) {
	loan, err := tx.GetLoan(ctx, loanID)
	if err != nil {
		return "", err
	}
	if loan.Status != domain.LoanBorrowed {
		return "", nil
	}

	loan.Status = domain.LoanReturned
	loan.ReturnDate = &now
	loan.UpdatedAt = now
	if err := tx.TransitionLoan(ctx, loan, domain.LoanBorrowed); err != nil {
		return "", err
	}
	if err := tx.IncrementAvailable(ctx, loan.BookID); err != nil {
		return "", err
	}
	if err := tx.DecrementBorrowCount(ctx, loan.UserID); err != nil {
		return "", err
	}
	return loan.BookID, nil
}

// autoUnblockTx lifts a debt-caused block once the user owes nothing.
// Blocks applied manually carry a different reason and stay.
func (s *FineService) autoUnblockTx(ctx context.Context, tx *sqlite.Tx, userID string) error {
	status, err := tx.GetUserStatus(ctx, userID)
	if err != nil {
		return err
	}
	if !status.IsBlocked() || status.BlockReason != autoBlockReason || status.TotalOutstandingFines > 0 {
		return nil
	}
	if err := tx.SetAccountStatus(ctx, userID, domain.AccountActive, "", nil); err != nil {
		return fmt.Errorf("unblock account: %w", err)
	}
	s.logger.InfoContext(ctx, "account unblocked, fines cleared", "user_id", userID)
	return nil
}

// UpdateFineRequest patches an open fine. Nil fields are left alone.
type UpdateFineRequest struct {
	Amount      *int64
	Description *string
	DueDate     *time.Time
	Status      *domain.FineStatus
	Notes       string
}

// Update patches an open fine. A status change to paid or waived routes
// through Resolve so the cascade never has a second entry point.
func (s *FineService) Update(ctx context.Context, actorID, fineID string, req UpdateFineRequest) (*domain.Fine, error) {
	if req.Status != nil {
		switch *req.Status {
		case domain.FinePaid:
			result, err := s.Resolve(ctx, actorID, fineID, domain.OutcomePaid, req.Notes)
			if err != nil {
				return nil, err
			}
			return result.Fine, nil
		case domain.FineWaived:
			result, err := s.Resolve(ctx, actorID, fineID, domain.OutcomeWaived, req.Notes)
			if err != nil {
				return nil, err
			}
			return result.Fine, nil
		case domain.FineWrittenOff:
			return s.WriteOff(ctx, actorID, fineID, req.Notes)
		}
	}

	var fine *domain.Fine
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		current, err := tx.GetFine(ctx, fineID)
		if err != nil {
			return err
		}
		if current.IsResolved() {
			return errors.AlreadyProcessedf("fine %s is already %s", fineID, current.Status)
		}

		amount := current.Amount
		if req.Amount != nil {
			if *req.Amount <= 0 {
				return errors.Validation("fine amount must be positive")
			}
			amount = *req.Amount
		}
		description := current.Description
		if req.Description != nil {
			description = *req.Description
		}
		dueDate := current.DueDate
		if req.DueDate != nil {
			dueDate = req.DueDate
		}

		if err := tx.UpdateFineDetails(ctx, fineID, amount, description, dueDate); err != nil {
			return err
		}
		if delta := amount - current.Amount; delta != 0 {
			if err := tx.AddOutstandingFines(ctx, current.UserID, delta, 0); err != nil {
				return fmt.Errorf("update outstanding fines: %w", err)
			}
		}

		// Paid, waived and written-off were routed above. Escalation
		// needs a reason and the reminder threshold, and overdue is
		// stamped by the sweep, so neither may arrive through a patch.
		if req.Status != nil && *req.Status != current.Status {
			if !req.Status.Valid() {
				return errors.Validationf("unknown fine status %q", *req.Status)
			}
			return errors.Validationf("status %q cannot be set directly", *req.Status)
		}

		now := time.Now().UTC()
		if err := s.appendAction(ctx, tx, fineID, actorID, domain.ActionFineUpdated,
			"fine updated", amount, req.Notes, now); err != nil {
			return err
		}

		fine, err = tx.GetFine(ctx, fineID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fine, nil
}

// Escalate refers a repeatedly ignored fine to stronger enforcement. The
// fine must have accumulated the configured number of reminders first.
func (s *FineService) Escalate(ctx context.Context, actorID, fineID, reason string) (*domain.Fine, error) {
	if reason == "" {
		return nil, errors.Validation("escalation reason is required")
	}

	var fine *domain.Fine
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		current, err := tx.GetFine(ctx, fineID)
		if err != nil {
			return err
		}
		if current.Status == domain.FineEscalated {
			return errors.AlreadyProcessedf("fine %s is already escalated", fineID)
		}
		if current.ReminderCount < s.cfg.Fines.EscalationReminderThreshold {
			return errors.Validationf("fine has %d reminders, %d required before escalation",
				current.ReminderCount, s.cfg.Fines.EscalationReminderThreshold)
		}

		now := time.Now().UTC()
		if err := s.escalateTx(ctx, tx, current, actorID, reason, now); err != nil {
			return err
		}

		fine, err = tx.GetFine(ctx, fineID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WarnContext(ctx, "fine escalated", "fine_id", fineID, "reason", reason)
	return fine, nil
}

// escalateTx moves an open fine to escalated and records it. Shared with the
// overdue sweep, which escalates inside its own per-loan transaction.
func (s *FineService) escalateTx(ctx context.Context, tx *sqlite.Tx, fine *domain.Fine, actorID, reason string, now time.Time) error {
	if err := tx.MarkFineStatus(ctx, fine.ID, domain.FineEscalated, reason, &now); err != nil {
		return err
	}
	return s.appendAction(ctx, tx, fine.ID, actorID, domain.ActionEscalated,
		fmt.Sprintf("escalated: %s", reason), fine.Amount, "", now)
}

// WriteOff abandons the debt without payment. The linked loan, if any, is
// not implied returned; writing off money says nothing about the book.
func (s *FineService) WriteOff(ctx context.Context, actorID, fineID, notes string) (*domain.Fine, error) {
	var fine *domain.Fine
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		current, err := tx.GetFine(ctx, fineID)
		if err != nil {
			return err
		}

		if err := tx.ResolveFine(ctx, fineID, domain.FineWrittenOff, nil); err != nil {
			return err
		}
		if err := tx.AddOutstandingFines(ctx, current.UserID, -current.Amount, -1); err != nil {
			return fmt.Errorf("update outstanding fines: %w", err)
		}
		if err := s.autoUnblockTx(ctx, tx, current.UserID); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.appendAction(ctx, tx, fineID, actorID, domain.ActionFineWrittenOff,
			"fine written off", current.Amount, notes, now); err != nil {
			return err
		}

		fine, err = tx.GetFine(ctx, fineID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "fine written off", "fine_id", fineID)
	return fine, nil
}

// appendAction writes one audit row.
func (s *FineService) appendAction(ctx context.Context, tx *sqlite.Tx, fineID, actorID string, actionType domain.FineActionType, description string, amount int64, notes string, now time.Time) error {
	action := &domain.FineAction{
		ID:          id.MustGenerate(id.PrefixFineAction),
		FineID:      fineID,
		ActorID:     actorID,
		Type:        actionType,
		Description: description,
		Amount:      amount,
		Notes:       notes,
		ActionDate:  now,
		CreatedAt:   now,
	}
	if err := tx.AppendFineAction(ctx, action); err != nil {
		return fmt.Errorf("append fine action: %w", err)
	}
	return nil
}

// Get retrieves a fine by ID.
func (s *FineService) Get(ctx context.Context, fineID string) (*domain.Fine, error) {
	return s.store.GetFine(ctx, fineID)
}

// ListByUser returns a user's fines, newest first.
func (s *FineService) ListByUser(ctx context.Context, userID string) ([]*domain.Fine, error) {
	return s.store.ListFinesByUser(ctx, userID)
}

// ListByLoan returns the fines linked to a loan.
func (s *FineService) ListByLoan(ctx context.Context, loanID string) ([]*domain.Fine, error) {
	return s.store.ListFinesByLoan(ctx, loanID)
}

// History returns a fine's audit trail in chronological order.
func (s *FineService) History(ctx context.Context, fineID string) ([]*domain.FineAction, error) {
	if _, err := s.store.GetFine(ctx, fineID); err != nil {
		return nil, err
	}
	return s.store.ListFineActions(ctx, fineID)
}

// Statistics aggregates fine counts and amounts across all users.
func (s *FineService) Statistics(ctx context.Context) (*sqlite.FineStatistics, error) {
	return s.store.FineStatistics(ctx)
}
