package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/circulateapp/circulate-server/internal/domain"
	apperrors "github.com/circulateapp/circulate-server/internal/errors"
)

const userStatusColumns = `user_id, account_status, current_borrow_count,
	max_borrow_limit, total_outstanding_fines, overdue_fines_count,
	block_reason, blocked_until, created_at, updated_at`

func scanUserStatus(scanner interface{ Scan(dest ...any) error }) (*domain.UserStatus, error) {
	var u domain.UserStatus

	var (
		blockReason  sql.NullString
		blockedUntil sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := scanner.Scan(
		&u.UserID,
		&u.AccountStatus,
		&u.CurrentBorrowCount,
		&u.MaxBorrowLimit,
		&u.TotalOutstandingFines,
		&u.OverdueFinesCount,
		&blockReason,
		&blockedUntil,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if u.BlockedUntil, err = parseNullableTime(blockedUntil); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	u.BlockReason = blockReason.String

	return &u, nil
}

// GetUserStatus retrieves a user's borrowing standing.
// Returns a NotFound error if no status row exists for the user.
func (s *Store) GetUserStatus(ctx context.Context, userID string) (*domain.UserStatus, error) {
	return getUserStatus(ctx, s.db, userID)
}

// GetUserStatus retrieves a user's standing inside the transaction.
func (t *Tx) GetUserStatus(ctx context.Context, userID string) (*domain.UserStatus, error) {
	return getUserStatus(ctx, t.tx, userID)
}

func getUserStatus(ctx context.Context, q querier, userID string) (*domain.UserStatus, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+userStatusColumns+` FROM user_status WHERE user_id = ?`, userID)

	u, err := scanUserStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("user status for %s not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureUserStatus creates a status row with the given defaults when the user
// has none, then returns the current row. Safe under concurrent callers: the
// insert ignores a racing winner and the follow-up read sees it.
func (t *Tx) EnsureUserStatus(ctx context.Context, userID string, maxBorrowLimit int) (*domain.UserStatus, error) {
	now := formatTime(timeNow())
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_status (user_id, account_status, max_borrow_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, string(domain.AccountActive), maxBorrowLimit, now, now)
	if err != nil {
		return nil, err
	}
	return getUserStatus(ctx, t.tx, userID)
}

// IncrementBorrowCount bumps the user's materialized borrow counter.
func (t *Tx) IncrementBorrowCount(ctx context.Context, userID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_status SET current_borrow_count = current_borrow_count + 1, updated_at = ?
		WHERE user_id = ?`,
		formatTime(timeNow()), userID)
	if err != nil {
		return err
	}
	return requireRow(res, userID)
}

// DecrementBorrowCount lowers the counter, floored at zero. A decrement that
// would go negative indicates the cache drifted; it is clamped and logged so
// a later reconcile can repair it.
func (t *Tx) DecrementBorrowCount(ctx context.Context, userID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_status SET current_borrow_count = current_borrow_count - 1, updated_at = ?
		WHERE user_id = ? AND current_borrow_count > 0`,
		formatTime(timeNow()), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := getUserStatus(ctx, t.tx, userID); err != nil {
			return err
		}
		t.logger.Warn("borrow count already zero, decrement clamped", "user_id", userID)
	}
	return nil
}

// SetBorrowCount overwrites the counter with a freshly derived value.
func (t *Tx) SetBorrowCount(ctx context.Context, userID string, count int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_status SET current_borrow_count = ?, updated_at = ?
		WHERE user_id = ?`,
		count, formatTime(timeNow()), userID)
	if err != nil {
		return err
	}
	return requireRow(res, userID)
}

// AddOutstandingFines adjusts the user's outstanding fine total and open fine
// count by the given deltas. Resolving a fine passes negative deltas.
func (t *Tx) AddOutstandingFines(ctx context.Context, userID string, amountDelta int64, countDelta int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_status SET
			total_outstanding_fines = MAX(0, total_outstanding_fines + ?),
			overdue_fines_count = MAX(0, overdue_fines_count + ?),
			updated_at = ?
		WHERE user_id = ?`,
		amountDelta, countDelta, formatTime(timeNow()), userID)
	if err != nil {
		return err
	}
	return requireRow(res, userID)
}

// SetAccountStatus changes the user's account standing. Block reason and
// until are cleared when the account returns to active.
func (t *Tx) SetAccountStatus(ctx context.Context, userID string, status domain.AccountStatus, reason string, until *time.Time) error {
	if status == domain.AccountActive {
		reason = ""
		until = nil
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_status SET account_status = ?, block_reason = ?, blocked_until = ?, updated_at = ?
		WHERE user_id = ?`,
		string(status), nullString(reason), nullTimeString(until), formatTime(timeNow()), userID)
	if err != nil {
		return err
	}
	return requireRow(res, userID)
}

// SetMaxBorrowLimit overrides the user's borrow limit.
func (t *Tx) SetMaxBorrowLimit(ctx context.Context, userID string, limit int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_status SET max_borrow_limit = ?, updated_at = ? WHERE user_id = ?`,
		limit, formatTime(timeNow()), userID)
	if err != nil {
		return err
	}
	return requireRow(res, userID)
}

// SumOpenFines totals the amounts and counts the rows of a user's unresolved
// fines straight from the fines table. Used by reconcile.
func (t *Tx) SumOpenFines(ctx context.Context, userID string) (int64, int, error) {
	var (
		total sql.NullInt64
		count int
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM fines
		WHERE user_id = ? AND status NOT IN (?, ?, ?)`,
		userID, string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff)).
		Scan(&total, &count)
	if err != nil {
		return 0, 0, err
	}
	return total.Int64, count, nil
}

func requireRow(res sql.Result, userID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFoundf("user status for %s not found", userID)
	}
	return nil
}
