package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/circulateapp/circulate-server/internal/domain"
	apperrors "github.com/circulateapp/circulate-server/internal/errors"
)

const fineColumns = `id, created_at, updated_at, user_id, loan_id, amount,
	reason, description, status, fine_date, paid_date, due_date,
	reminder_count, last_reminder_date, escalation_reason, escalation_date`

func scanFine(scanner interface{ Scan(dest ...any) error }) (*domain.Fine, error) {
	var f domain.Fine

	var (
		createdAt        string
		updatedAt        string
		loanID           sql.NullString
		description      sql.NullString
		fineDate         string
		paidDate         sql.NullString
		dueDate          sql.NullString
		lastReminderDate sql.NullString
		escalationReason sql.NullString
		escalationDate   sql.NullString
	)

	err := scanner.Scan(
		&f.ID,
		&createdAt,
		&updatedAt,
		&f.UserID,
		&loanID,
		&f.Amount,
		&f.Reason,
		&description,
		&f.Status,
		&fineDate,
		&paidDate,
		&dueDate,
		&f.ReminderCount,
		&lastReminderDate,
		&escalationReason,
		&escalationDate,
	)
	if err != nil {
		return nil, err
	}

	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if f.FineDate, err = parseTime(fineDate); err != nil {
		return nil, err
	}
	if f.PaidDate, err = parseNullableTime(paidDate); err != nil {
		return nil, err
	}
	if f.DueDate, err = parseNullableTime(dueDate); err != nil {
		return nil, err
	}
	if f.LastReminderDate, err = parseNullableTime(lastReminderDate); err != nil {
		return nil, err
	}
	if f.EscalationDate, err = parseNullableTime(escalationDate); err != nil {
		return nil, err
	}

	f.LoanID = loanID.String
	f.Description = description.String
	f.EscalationReason = escalationReason.String

	return &f, nil
}

// CreateFine inserts a new fine row inside the transaction.
func (t *Tx) CreateFine(ctx context.Context, fine *domain.Fine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fines (
			id, created_at, updated_at, user_id, loan_id, amount,
			reason, description, status, fine_date, paid_date, due_date,
			reminder_count, last_reminder_date, escalation_reason, escalation_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fine.ID,
		formatTime(fine.CreatedAt),
		formatTime(fine.UpdatedAt),
		fine.UserID,
		nullString(fine.LoanID),
		fine.Amount,
		fine.Reason,
		nullString(fine.Description),
		string(fine.Status),
		formatTime(fine.FineDate),
		nullTimeString(fine.PaidDate),
		nullTimeString(fine.DueDate),
		fine.ReminderCount,
		nullTimeString(fine.LastReminderDate),
		nullString(fine.EscalationReason),
		nullTimeString(fine.EscalationDate),
	)
	return err
}

// GetFine retrieves a fine by ID.
// Returns a NotFound error if the fine does not exist.
func (s *Store) GetFine(ctx context.Context, id string) (*domain.Fine, error) {
	return getFine(ctx, s.db, id)
}

// GetFine retrieves a fine inside the transaction.
func (t *Tx) GetFine(ctx context.Context, id string) (*domain.Fine, error) {
	return getFine(ctx, t.tx, id)
}

func getFine(ctx context.Context, q querier, id string) (*domain.Fine, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+fineColumns+` FROM fines WHERE id = ?`, id)

	f, err := scanFine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("fine %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFinesByUser returns all fines for a user, newest first.
func (s *Store) ListFinesByUser(ctx context.Context, userID string) ([]*domain.Fine, error) {
	return listFines(ctx, s.db,
		`SELECT `+fineColumns+` FROM fines WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListFinesByLoan returns all fines linked to a loan, newest first.
func (s *Store) ListFinesByLoan(ctx context.Context, loanID string) ([]*domain.Fine, error) {
	return listFines(ctx, s.db,
		`SELECT `+fineColumns+` FROM fines WHERE loan_id = ? ORDER BY created_at DESC`, loanID)
}

// ListFinesByStatus returns all fines in the given status, oldest first.
func (s *Store) ListFinesByStatus(ctx context.Context, status domain.FineStatus) ([]*domain.Fine, error) {
	return listFines(ctx, s.db,
		`SELECT `+fineColumns+` FROM fines WHERE status = ? ORDER BY created_at`, string(status))
}

func listFines(ctx context.Context, q querier, query string, args ...any) ([]*domain.Fine, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fines []*domain.Fine
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		fines = append(fines, f)
	}
	return fines, rows.Err()
}

// OpenLatenessFineForLoan finds the unresolved lateness fine for a loan, if
// one exists. The overdue sweep keys its idempotence off this lookup: a loan
// carries at most one open lateness fine.
func (t *Tx) OpenLatenessFineForLoan(ctx context.Context, loanID, reason string) (*domain.Fine, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+fineColumns+` FROM fines
		WHERE loan_id = ? AND reason = ? AND status NOT IN (?, ?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		loanID, reason,
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff))

	f, err := scanFine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ResolveFine moves an open fine to a terminal status. The open-status guard
// makes resolution at-most-once: a second resolve of the same fine misses the
// guard and comes back as AlreadyProcessed (or InvalidTransition when the
// fine sits in an unexpected open state).
func (t *Tx) ResolveFine(ctx context.Context, fineID string, target domain.FineStatus, paidDate *time.Time) error {
	if !target.IsResolved() {
		return apperrors.InvalidTransitionf("%s is not a terminal fine status", target)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE fines SET status = ?, paid_date = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(target),
		nullTimeString(paidDate),
		formatTime(timeNow()),
		fineID,
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := getFine(ctx, t.tx, fineID)
		if err != nil {
			return err
		}
		return apperrors.AlreadyProcessedf("fine %s is already %s", fineID, current.Status)
	}
	return nil
}

// UpdateFineAmount rewrites the accrued amount of a still-open fine. The
// sweep calls this as overdue days accumulate; a resolved fine never grows.
func (t *Tx) UpdateFineAmount(ctx context.Context, fineID string, amount int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE fines SET amount = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		amount, formatTime(timeNow()), fineID,
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := getFine(ctx, t.tx, fineID)
		if err != nil {
			return err
		}
		return apperrors.AlreadyProcessedf("fine %s is already %s", fineID, current.Status)
	}
	return nil
}

// UpdateFineDetails rewrites the mutable descriptive fields of an open fine.
func (t *Tx) UpdateFineDetails(ctx context.Context, fineID string, amount int64, description string, dueDate *time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE fines SET amount = ?, description = ?, due_date = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		amount, nullString(description), nullTimeString(dueDate), formatTime(timeNow()), fineID,
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := getFine(ctx, t.tx, fineID)
		if err != nil {
			return err
		}
		return apperrors.AlreadyProcessedf("fine %s is already %s", fineID, current.Status)
	}
	return nil
}

// MarkFineStatus moves an open fine between non-terminal statuses, pending to
// overdue for an expired payment deadline or to escalated after repeated
// ignored reminders.
func (t *Tx) MarkFineStatus(ctx context.Context, fineID string, status domain.FineStatus, escalationReason string, escalationDate *time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE fines SET status = ?, escalation_reason = ?, escalation_date = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status),
		nullString(escalationReason),
		nullTimeString(escalationDate),
		formatTime(timeNow()),
		fineID,
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := getFine(ctx, t.tx, fineID)
		if err != nil {
			return err
		}
		return apperrors.AlreadyProcessedf("fine %s is already %s", fineID, current.Status)
	}
	return nil
}

// MarkReminder records a sent reminder against an open fine.
func (t *Tx) MarkReminder(ctx context.Context, fineID string, sentAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE fines SET reminder_count = reminder_count + 1, last_reminder_date = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		formatTime(sentAt), formatTime(timeNow()), fineID,
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.AlreadyProcessedf("fine %s is no longer open", fineID)
	}
	return nil
}

// FineStatistics aggregates fine totals for reporting.
type FineStatistics struct {
	TotalFines       int   `json:"total_fines"`
	OpenFines        int   `json:"open_fines"`
	PaidFines        int   `json:"paid_fines"`
	WaivedFines      int   `json:"waived_fines"`
	WrittenOffFines  int   `json:"written_off_fines"`
	EscalatedFines   int   `json:"escalated_fines"`
	TotalOutstanding int64 `json:"total_outstanding"`
	TotalCollected   int64 `json:"total_collected"`
}

// FineStatistics computes aggregate fine counts and amounts across all users.
func (s *Store) FineStatistics(ctx context.Context) (*FineStatistics, error) {
	var (
		stats      FineStatistics
		outstanding sql.NullInt64
		collected   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status NOT IN (?, ?, ?)),
			COUNT(*) FILTER (WHERE status = ?),
			COUNT(*) FILTER (WHERE status = ?),
			COUNT(*) FILTER (WHERE status = ?),
			COUNT(*) FILTER (WHERE status = ?),
			COALESCE(SUM(amount) FILTER (WHERE status NOT IN (?, ?, ?)), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = ?), 0)
		FROM fines`,
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff),
		string(domain.FinePaid),
		string(domain.FineWaived),
		string(domain.FineWrittenOff),
		string(domain.FineEscalated),
		string(domain.FinePaid), string(domain.FineWaived), string(domain.FineWrittenOff),
		string(domain.FinePaid),
	).Scan(
		&stats.TotalFines,
		&stats.OpenFines,
		&stats.PaidFines,
		&stats.WaivedFines,
		&stats.WrittenOffFines,
		&stats.EscalatedFines,
		&outstanding,
		&collected,
	)
	if err != nil {
		return nil, err
	}
	stats.TotalOutstanding = outstanding.Int64
	stats.TotalCollected = collected.Int64
	return &stats, nil
}
