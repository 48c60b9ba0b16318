package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/circulateapp/circulate-server/internal/domain"
	apperrors "github.com/circulateapp/circulate-server/internal/errors"
)

const loanColumns = `id, created_at, updated_at, user_id, book_id, borrow_date,
	due_date, confirmed_date, return_date, status, notes, extension_count,
	last_extension_date, due_reminder_date`

func scanLoan(scanner interface{ Scan(dest ...any) error }) (*domain.Loan, error) {
	var l domain.Loan

	var (
		createdAt         string
		updatedAt         string
		borrowDate        string
		dueDate           string
		confirmedDate     sql.NullString
		returnDate        sql.NullString
		notes             sql.NullString
		lastExtensionDate sql.NullString
		dueReminderDate   sql.NullString
	)

	err := scanner.Scan(
		&l.ID,
		&createdAt,
		&updatedAt,
		&l.UserID,
		&l.BookID,
		&borrowDate,
		&dueDate,
		&confirmedDate,
		&returnDate,
		&l.Status,
		&notes,
		&l.ExtensionCount,
		&lastExtensionDate,
		&dueReminderDate,
	)
	if err != nil {
		return nil, err
	}

	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if l.BorrowDate, err = parseTime(borrowDate); err != nil {
		return nil, err
	}
	if l.DueDate, err = parseTime(dueDate); err != nil {
		return nil, err
	}
	if l.ConfirmedDate, err = parseNullableTime(confirmedDate); err != nil {
		return nil, err
	}
	if l.ReturnDate, err = parseNullableTime(returnDate); err != nil {
		return nil, err
	}
	if l.LastExtensionDate, err = parseNullableTime(lastExtensionDate); err != nil {
		return nil, err
	}
	if l.DueReminderDate, err = parseNullableTime(dueReminderDate); err != nil {
		return nil, err
	}

	l.Notes = notes.String

	return &l, nil
}

// CreateLoan inserts a new loan row inside the transaction.
func (t *Tx) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loans (
			id, created_at, updated_at, user_id, book_id, borrow_date,
			due_date, confirmed_date, return_date, status, notes,
			extension_count, last_extension_date, due_reminder_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID,
		formatTime(loan.CreatedAt),
		formatTime(loan.UpdatedAt),
		loan.UserID,
		loan.BookID,
		formatTime(loan.BorrowDate),
		formatTime(loan.DueDate),
		nullTimeString(loan.ConfirmedDate),
		nullTimeString(loan.ReturnDate),
		string(loan.Status),
		nullString(loan.Notes),
		loan.ExtensionCount,
		nullTimeString(loan.LastExtensionDate),
		nullTimeString(loan.DueReminderDate),
	)
	return err
}

// GetLoan retrieves a loan by ID.
// Returns a NotFound error if the loan does not exist.
func (s *Store) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	return getLoan(ctx, s.db, id)
}

// GetLoan retrieves a loan inside the transaction, observing any writes made
// earlier in the same transaction.
func (t *Tx) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	return getLoan(ctx, t.tx, id)
}

func getLoan(ctx context.Context, q querier, id string) (*domain.Loan, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)

	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("loan %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListLoansByUser returns all loans for a user, newest first.
func (s *Store) ListLoansByUser(ctx context.Context, userID string) ([]*domain.Loan, error) {
	return listLoans(ctx, s.db,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListLoansByBook returns all loans for a book, newest first.
func (s *Store) ListLoansByBook(ctx context.Context, bookID string) ([]*domain.Loan, error) {
	return listLoans(ctx, s.db,
		`SELECT `+loanColumns+` FROM loans WHERE book_id = ? ORDER BY created_at DESC`, bookID)
}

// ListLoansByStatus returns all loans in the given status, oldest first.
func (s *Store) ListLoansByStatus(ctx context.Context, status domain.LoanStatus) ([]*domain.Loan, error) {
	return listLoans(ctx, s.db,
		`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at`, string(status))
}

// ListOverdueLoans returns borrowed loans whose due date has passed as of now,
// most overdue first. Overdue is derived here from status and due date, never
// stored.
func (s *Store) ListOverdueLoans(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	return listLoans(ctx, s.db, `
		SELECT `+loanColumns+` FROM loans
		WHERE status = ? AND return_date IS NULL AND due_date < ?
		ORDER BY due_date`,
		string(domain.LoanBorrowed), formatTime(now))
}

func listLoans(ctx context.Context, q querier, query string, args ...any) ([]*domain.Loan, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []*domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// CountActiveLoans counts a user's loans currently out or requested. Used by
// reconcile and by the borrow-limit check, which treats overdue loans as
// active until they resolve.
func (t *Tx) CountActiveLoans(ctx context.Context, userID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans WHERE user_id = ? AND status IN (?, ?)`,
		userID, string(domain.LoanRequested), string(domain.LoanBorrowed)).Scan(&n)
	return n, err
}

// CountBorrowedLoans counts a user's loans currently in borrowed status.
func (t *Tx) CountBorrowedLoans(ctx context.Context, userID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans WHERE user_id = ? AND status = ?`,
		userID, string(domain.LoanBorrowed)).Scan(&n)
	return n, err
}

// HasOverdueLoan reports whether the user has any borrowed loan past its due
// date as of now.
func (t *Tx) HasOverdueLoan(ctx context.Context, userID string, now time.Time) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans
		WHERE user_id = ? AND status = ? AND return_date IS NULL AND due_date < ?`,
		userID, string(domain.LoanBorrowed), formatTime(now)).Scan(&n)
	return n > 0, err
}

// HasOpenLoanForBook reports whether the user already has a requested or
// borrowed loan for the given book.
func (t *Tx) HasOpenLoanForBook(ctx context.Context, userID, bookID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans
		WHERE user_id = ? AND book_id = ? AND status IN (?, ?)`,
		userID, bookID, string(domain.LoanRequested), string(domain.LoanBorrowed)).Scan(&n)
	return n > 0, err
}

// TransitionLoan moves a loan from one status to another with the source
// status as precondition. When the guard misses it re-reads the row and
// returns an InvalidTransition error naming the status actually found, so a
// racing double-approve surfaces as a conflict instead of a silent overwrite.
func (t *Tx) TransitionLoan(ctx context.Context, loan *domain.Loan, from domain.LoanStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE loans SET
			updated_at = ?, status = ?, confirmed_date = ?, return_date = ?,
			due_date = ?, notes = ?
		WHERE id = ? AND status = ?`,
		formatTime(loan.UpdatedAt),
		string(loan.Status),
		nullTimeString(loan.ConfirmedDate),
		nullTimeString(loan.ReturnDate),
		formatTime(loan.DueDate),
		nullString(loan.Notes),
		loan.ID,
		string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := getLoan(ctx, t.tx, loan.ID)
		if err != nil {
			return err
		}
		return apperrors.InvalidTransitionf("%s", current.Status.TransitionError(loan.Status))
	}
	return nil
}

// ListLoansDueSoon returns borrowed loans due within the next `days` calendar
// days (and not yet overdue), soonest first.
func (s *Store) ListLoansDueSoon(ctx context.Context, now time.Time, days int) ([]*domain.Loan, error) {
	horizon := now.AddDate(0, 0, days)
	return listLoans(ctx, s.db, `
		SELECT `+loanColumns+` FROM loans
		WHERE status = ? AND return_date IS NULL AND due_date >= ? AND due_date <= ?
		ORDER BY due_date`,
		string(domain.LoanBorrowed), formatTime(now), formatTime(horizon))
}

// ExtendLoan pushes a borrowed loan's due date out and bumps its extension
// count, with borrowed status as precondition. A guard miss is reported as an
// invalid transition naming the status actually found.
func (t *Tx) ExtendLoan(ctx context.Context, loanID string, newDue, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE loans SET
			updated_at = ?, due_date = ?,
			extension_count = extension_count + 1, last_extension_date = ?
		WHERE id = ? AND status = ?`,
		formatTime(now),
		formatTime(newDue),
		formatTime(now),
		loanID,
		string(domain.LoanBorrowed),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := getLoan(ctx, t.tx, loanID)
		if err != nil {
			return err
		}
		return apperrors.InvalidTransitionf("cannot extend loan in status %s; only borrowed loans extend", current.Status)
	}
	return nil
}

// MarkDueReminder records that a courtesy due-soon reminder went out for the
// loan, so the daily pass sends at most one per day.
func (t *Tx) MarkDueReminder(ctx context.Context, loanID string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE loans SET due_reminder_date = ?, updated_at = ? WHERE id = ?`,
		formatTime(now), formatTime(now), loanID)
	return err
}
