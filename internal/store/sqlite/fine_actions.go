package sqlite

import (
	"context"
	"database/sql"

	"github.com/circulateapp/circulate-server/internal/domain"
)

const fineActionColumns = `id, fine_id, actor_id, action_type, description,
	amount, notes, action_date, created_at`

func scanFineAction(scanner interface{ Scan(dest ...any) error }) (*domain.FineAction, error) {
	var a domain.FineAction

	var (
		amount     sql.NullInt64
		notes      sql.NullString
		actionDate string
		createdAt  string
	)

	err := scanner.Scan(
		&a.ID,
		&a.FineID,
		&a.ActorID,
		&a.Type,
		&a.Description,
		&amount,
		&notes,
		&actionDate,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if a.ActionDate, err = parseTime(actionDate); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	a.Amount = amount.Int64
	a.Notes = notes.String

	return &a, nil
}

// AppendFineAction appends one audit row. The trail is append-only; there is
// no update or delete path for fine actions anywhere in the store.
func (t *Tx) AppendFineAction(ctx context.Context, action *domain.FineAction) error {
	var amount sql.NullInt64
	if action.Amount != 0 {
		amount = sql.NullInt64{Int64: action.Amount, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fine_actions (
			id, fine_id, actor_id, action_type, description,
			amount, notes, action_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID,
		action.FineID,
		action.ActorID,
		string(action.Type),
		action.Description,
		amount,
		nullString(action.Notes),
		formatTime(action.ActionDate),
		formatTime(action.CreatedAt),
	)
	return err
}

// ListFineActions returns a fine's audit trail in chronological order.
func (s *Store) ListFineActions(ctx context.Context, fineID string) ([]*domain.FineAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fineActionColumns+` FROM fine_actions
		WHERE fine_id = ? ORDER BY action_date, created_at`, fineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*domain.FineAction
	for rows.Next() {
		a, err := scanFineAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// CountFineActions counts audit rows for a fine. Tests and invariant checks
// use it to assert exactly-one-append per operation.
func (s *Store) CountFineActions(ctx context.Context, fineID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fine_actions WHERE fine_id = ?`, fineID).Scan(&n)
	return n, err
}
