package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/errors"
	"github.com/circulateapp/circulate-server/internal/store/sqlite"
)

// UserStatusService tracks borrowing standing: the cached borrow counter,
// outstanding fine totals, and account blocks.
type UserStatusService struct {
	store  *sqlite.Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewUserStatusService creates a new user status service.
func NewUserStatusService(store *sqlite.Store, cfg *config.Config, logger *slog.Logger) *UserStatusService {
	return &UserStatusService{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// BorrowEligibility is the answer to "may this user borrow right now".
type BorrowEligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ReconcileResult reports a counter repair.
type ReconcileResult struct {
	UserID string `json:"user_id"`
	// BorrowCountBefore is the cached counter going in.
	BorrowCountBefore int `json:"borrow_count_before"`
	// BorrowCountAfter is the value recomputed from the loans table.
	BorrowCountAfter int `json:"borrow_count_after"`
	// Drift is true when the cache had wandered from the source of truth.
	Drift bool `json:"drift"`

	OutstandingBefore int64 `json:"outstanding_before"`
	OutstandingAfter  int64 `json:"outstanding_after"`
}

// Get returns the user's standing, creating a default row on first sight.
func (s *UserStatusService) Get(ctx context.Context, userID string) (*domain.UserStatus, error) {
	var status *domain.UserStatus
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		var err error
		status, err = tx.EnsureUserStatus(ctx, userID, s.cfg.Circulation.MaxBorrowLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// CanBorrow evaluates every borrowing rule for the user and names the first
// one that fails. A nil-reason result means a request would go through right
// now; it is advisory only, RequestBorrow re-checks inside its transaction.
func (s *UserStatusService) CanBorrow(ctx context.Context, userID string) (*BorrowEligibility, error) {
	var eligibility *BorrowEligibility
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		status, err := tx.EnsureUserStatus(ctx, userID, s.cfg.Circulation.MaxBorrowLimit)
		if err != nil {
			return err
		}

		if status.IsBlocked() {
			eligibility = &BorrowEligibility{Reason: fmt.Sprintf("account is blocked: %s", status.BlockReason)}
			return nil
		}
		if status.AccountStatus == domain.AccountSuspended {
			eligibility = &BorrowEligibility{Reason: "account is suspended"}
			return nil
		}
		if status.TotalOutstandingFines > s.cfg.Fines.BorrowBlockThreshold {
			eligibility = &BorrowEligibility{Reason: fmt.Sprintf("outstanding fines of %d exceed the borrowing threshold", status.TotalOutstandingFines)}
			return nil
		}

		now := time.Now().UTC()
		active, err := tx.CountActiveLoans(ctx, userID)
		if err != nil {
			return err
		}
		if active >= status.MaxBorrowLimit {
			eligibility = &BorrowEligibility{Reason: fmt.Sprintf("user holds %d of %d allowed loans", active, status.MaxBorrowLimit)}
			return nil
		}

		overdue, err := tx.HasOverdueLoan(ctx, userID, now)
		if err != nil {
			return err
		}
		if overdue {
			eligibility = &BorrowEligibility{Reason: "an overdue loan is outstanding"}
			return nil
		}

		eligibility = &BorrowEligibility{Allowed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return eligibility, nil
}

// Reconcile recomputes the cached borrow counter and outstanding fine totals
// from the loans and fines tables and rewrites the cache. The tables are the
// source of truth; the cache only exists to make the borrow check one read.
func (s *UserStatusService) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	result := &ReconcileResult{UserID: userID}
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		status, err := tx.GetUserStatus(ctx, userID)
		if err != nil {
			return err
		}
		result.BorrowCountBefore = status.CurrentBorrowCount
		result.OutstandingBefore = status.TotalOutstandingFines

		borrowed, err := tx.CountBorrowedLoans(ctx, userID)
		if err != nil {
			return fmt.Errorf("count borrowed loans: %w", err)
		}
		openAmount, openCount, err := tx.SumOpenFines(ctx, userID)
		if err != nil {
			return fmt.Errorf("sum open fines: %w", err)
		}

		result.BorrowCountAfter = borrowed
		result.OutstandingAfter = openAmount
		result.Drift = borrowed != status.CurrentBorrowCount || openAmount != status.TotalOutstandingFines

		if !result.Drift {
			return nil
		}
		if err := tx.SetBorrowCount(ctx, userID, borrowed); err != nil {
			return err
		}
		return tx.AddOutstandingFines(ctx, userID,
			openAmount-status.TotalOutstandingFines, openCount-status.OverdueFinesCount)
	})
	if err != nil {
		return nil, err
	}

	if result.Drift {
		s.logger.WarnContext(ctx, "user status cache drifted, repaired",
			"user_id", userID,
			"borrow_count_before", result.BorrowCountBefore,
			"borrow_count_after", result.BorrowCountAfter,
			"outstanding_before", result.OutstandingBefore,
			"outstanding_after", result.OutstandingAfter,
		)
	}
	return result, nil
}

// Block stops the user from borrowing, optionally until a given time.
func (s *UserStatusService) Block(ctx context.Context, actorID, userID, reason string, until *time.Time) (*domain.UserStatus, error) {
	if reason == "" {
		return nil, errors.Validation("block reason is required")
	}

	var status *domain.UserStatus
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		if _, err := tx.EnsureUserStatus(ctx, userID, s.cfg.Circulation.MaxBorrowLimit); err != nil {
			return err
		}
		if err := tx.SetAccountStatus(ctx, userID, domain.AccountBlocked, reason, until); err != nil {
			return err
		}
		var err error
		status, err = tx.GetUserStatus(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WarnContext(ctx, "account blocked",
		"user_id", userID, "actor_id", actorID, "reason", reason)
	return status, nil
}

// Unblock restores the account to active standing.
func (s *UserStatusService) Unblock(ctx context.Context, actorID, userID string) (*domain.UserStatus, error) {
	var status *domain.UserStatus
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		current, err := tx.GetUserStatus(ctx, userID)
		if err != nil {
			return err
		}
		if !current.IsBlocked() && current.AccountStatus != domain.AccountSuspended {
			return errors.Conflictf("account %s is not blocked", userID)
		}
		if err := tx.SetAccountStatus(ctx, userID, domain.AccountActive, "", nil); err != nil {
			return err
		}
		status, err = tx.GetUserStatus(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account unblocked", "user_id", userID, "actor_id", actorID)
	return status, nil
}

// SetBorrowLimit overrides the user's concurrent borrow cap.
func (s *UserStatusService) SetBorrowLimit(ctx context.Context, actorID, userID string, limit int) (*domain.UserStatus, error) {
	if limit < 1 {
		return nil, errors.Validation("borrow limit must be at least 1")
	}

	var status *domain.UserStatus
	err := s.store.Transact(ctx, func(tx *sqlite.Tx) error {
		if _, err := tx.EnsureUserStatus(ctx, userID, s.cfg.Circulation.MaxBorrowLimit); err != nil {
			return err
		}
		if err := tx.SetMaxBorrowLimit(ctx, userID, limit); err != nil {
			return err
		}
		var err error
		status, err = tx.GetUserStatus(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "borrow limit changed",
		"user_id", userID, "actor_id", actorID, "limit", limit)
	return status, nil
}
