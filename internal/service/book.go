package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/errors"
	"github.com/circulateapp/circulate-server/internal/id"
	"github.com/circulateapp/circulate-server/internal/store/sqlite"
	"github.com/circulateapp/circulate-server/internal/validation"
)

// BookService manages the catalog.
type BookService struct {
	store     *sqlite.Store
	logger    *slog.Logger
	validator *validation.Validator
}

// NewBookService creates a new book service.
func NewBookService(store *sqlite.Store, logger *slog.Logger) *BookService {
	return &BookService{
		store:     store,
		logger:    logger,
		validator: validation.New(),
	}
}

// CreateBookRequest describes a new catalog entry.
type CreateBookRequest struct {
	Title       string `json:"title" validate:"required,min=1,max=500"`
	Author      string `json:"author" validate:"required,min=1,max=200"`
	ISBN        string `json:"isbn" validate:"max=20"`
	Publisher   string `json:"publisher" validate:"max=200"`
	PublishYear int    `json:"publish_year" validate:"omitempty,gte=0,lte=2100"`
	Description string `json:"description"`
	Price       int64  `json:"price" validate:"gte=0"`
	Quantity    int    `json:"quantity" validate:"gte=1"`
}

// Create adds a book to the catalog with all copies on the shelf.
func (s *BookService) Create(ctx context.Context, req CreateBookRequest) (*domain.Book, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	book := &domain.Book{
		Title:             req.Title,
		Author:            req.Author,
		ISBN:              req.ISBN,
		Publisher:         req.Publisher,
		PublishYear:       req.PublishYear,
		Description:       req.Description,
		Price:             req.Price,
		Quantity:          req.Quantity,
		AvailableQuantity: req.Quantity,
	}
	book.ID = id.MustGenerate(id.PrefixBook)
	book.InitTimestamps()

	if err := s.store.CreateBook(ctx, book); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "book created", "book_id", book.ID, "title", book.Title)
	return book, nil
}

// Get retrieves a book by ID.
func (s *BookService) Get(ctx context.Context, bookID string) (*domain.Book, error) {
	return s.store.GetBook(ctx, bookID)
}

// List returns the catalog ordered by title.
func (s *BookService) List(ctx context.Context) ([]*domain.Book, error) {
	return s.store.ListBooks(ctx)
}

// UpdateBookRequest patches a catalog entry. Nil fields are left alone.
type UpdateBookRequest struct {
	Title       *string
	Author      *string
	ISBN        *string
	Publisher   *string
	PublishYear *int
	Description *string
	Price       *int64
	Quantity    *int
}

// Update patches a book. Raising or lowering the total quantity moves the
// available count by the same amount so copies currently out stay accounted
// for.
func (s *BookService) Update(ctx context.Context, bookID string, req UpdateBookRequest) (*domain.Book, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		book.Title = *req.Title
	}
	if req.Author != nil {
		book.Author = *req.Author
	}
	if req.ISBN != nil {
		book.ISBN = *req.ISBN
	}
	if req.Publisher != nil {
		book.Publisher = *req.Publisher
	}
	if req.PublishYear != nil {
		book.PublishYear = *req.PublishYear
	}
	if req.Description != nil {
		book.Description = *req.Description
	}
	if req.Price != nil {
		book.Price = *req.Price
	}
	if req.Quantity != nil {
		delta := *req.Quantity - book.Quantity
		onLoan := book.Quantity - book.AvailableQuantity
		if *req.Quantity < onLoan {
			return nil, errors.Validationf("quantity %d is below the %d copies currently out", *req.Quantity, onLoan)
		}
		book.Quantity = *req.Quantity
		book.AvailableQuantity += delta
	}
	book.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateBook(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

// Delete soft-deletes a book. Copies still out block deletion.
func (s *BookService) Delete(ctx context.Context, bookID string) error {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if book.AvailableQuantity < book.Quantity {
		return errors.Conflictf("book %s has copies on loan", bookID)
	}

	book.MarkDeleted()
	if err := s.store.UpdateBook(ctx, book); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "book deleted", "book_id", bookID)
	return nil
}
