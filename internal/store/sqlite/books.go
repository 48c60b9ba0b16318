package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/circulateapp/circulate-server/internal/domain"
	apperrors "github.com/circulateapp/circulate-server/internal/errors"
)

// bookColumns is the ordered list of columns selected in book queries.
// Must match the scan order in scanBook.
const bookColumns = `id, created_at, updated_at, deleted_at, title, author, isbn,
	publisher, publish_year, description, price, quantity, available_quantity`

// scanBook scans a sql.Row (or sql.Rows via its Scan method) into a domain.Book.
func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var b domain.Book

	var (
		createdAt   string
		updatedAt   string
		deletedAt   sql.NullString
		isbn        sql.NullString
		publisher   sql.NullString
		publishYear sql.NullInt64
		description sql.NullString
	)

	err := scanner.Scan(
		&b.ID,
		&createdAt,
		&updatedAt,
		&deletedAt,
		&b.Title,
		&b.Author,
		&isbn,
		&publisher,
		&publishYear,
		&description,
		&b.Price,
		&b.Quantity,
		&b.AvailableQuantity,
	)
	if err != nil {
		return nil, err
	}

	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if b.DeletedAt, err = parseNullableTime(deletedAt); err != nil {
		return nil, err
	}

	b.ISBN = isbn.String
	b.Publisher = publisher.String
	b.PublishYear = int(publishYear.Int64)
	b.Description = description.String

	return &b, nil
}

// CreateBook inserts a new book row.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (
			id, created_at, updated_at, deleted_at, title, author, isbn,
			publisher, publish_year, description, price, quantity, available_quantity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID,
		formatTime(book.CreatedAt),
		formatTime(book.UpdatedAt),
		nullTimeString(book.DeletedAt),
		book.Title,
		book.Author,
		nullString(book.ISBN),
		nullString(book.Publisher),
		book.PublishYear,
		nullString(book.Description),
		book.Price,
		book.Quantity,
		book.AvailableQuantity,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Conflictf("book %s already exists", book.ID)
		}
		return err
	}
	return nil
}

// GetBook retrieves a book by ID, excluding soft-deleted records.
// Returns a NotFound error if the book does not exist.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return getBook(ctx, s.db, id)
}

// GetBook retrieves a book inside the transaction.
func (t *Tx) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return getBook(ctx, t.tx, id)
}

func getBook(ctx context.Context, q querier, id string) (*domain.Book, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ? AND deleted_at IS NULL`, id)

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("book %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBooks returns all non-deleted books ordered by title.
func (s *Store) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE deleted_at IS NULL ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// UpdateBook rewrites a book's catalog fields and copy counts.
func (s *Store) UpdateBook(ctx context.Context, book *domain.Book) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE books SET
			updated_at = ?, deleted_at = ?, title = ?, author = ?, isbn = ?,
			publisher = ?, publish_year = ?, description = ?, price = ?,
			quantity = ?, available_quantity = ?
		WHERE id = ?`,
		formatTime(book.UpdatedAt),
		nullTimeString(book.DeletedAt),
		book.Title,
		book.Author,
		nullString(book.ISBN),
		nullString(book.Publisher),
		book.PublishYear,
		nullString(book.Description),
		book.Price,
		book.Quantity,
		book.AvailableQuantity,
		book.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFoundf("book %s not found", book.ID)
	}
	return nil
}

// DecrementAvailable takes one copy off the shelf. The availability
// precondition sits in the WHERE clause so two racing borrows of the last
// copy resolve to one success and one OutOfStock.
func (t *Tx) DecrementAvailable(ctx context.Context, bookID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE books SET available_quantity = available_quantity - 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND available_quantity > 0`,
		formatTime(timeNow()), bookID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := getBook(ctx, t.tx, bookID); err != nil {
			return err
		}
		return apperrors.OutOfStockf("no copies of book %s available", bookID)
	}
	return nil
}

// IncrementAvailable puts one copy back on the shelf, clamped at the total
// quantity. Pushing past the cap indicates a bookkeeping bug upstream, so it
// is logged loudly instead of corrupting the count.
func (t *Tx) IncrementAvailable(ctx context.Context, bookID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE books SET available_quantity = available_quantity + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND available_quantity < quantity`,
		formatTime(timeNow()), bookID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := getBook(ctx, t.tx, bookID); err != nil {
			return err
		}
		t.logger.Warn("increment would exceed total quantity, clamped", "book_id", bookID)
	}
	return nil
}
