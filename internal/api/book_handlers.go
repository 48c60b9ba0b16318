package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/circulateapp/circulate-server/internal/service"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books",
		Summary:     "List books",
		Description: "Returns the catalog",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "createBook",
		Method:      http.MethodPost,
		Path:        "/api/v1/books",
		Summary:     "Create book",
		Description: "Adds a title to the catalog",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleCreateBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}",
		Summary:     "Get book",
		Description: "Returns a book by ID",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateBook",
		Method:      http.MethodPatch,
		Path:        "/api/v1/books/{id}",
		Summary:     "Update book",
		Description: "Patches a catalog entry",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleUpdateBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteBook",
		Method:      http.MethodDelete,
		Path:        "/api/v1/books/{id}",
		Summary:     "Delete book",
		Description: "Soft-deletes a catalog entry with no copies on loan",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleDeleteBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBookLoans",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/loans",
		Summary:     "Get book loans",
		Description: "Returns the lending history of a book",
		Tags:        []string{"Books"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetBookLoans)
}

// === DTOs ===

type ListBooksResponse struct {
	Books []BookResponse `json:"books" doc:"Catalog entries"`
}

type ListBooksOutput struct {
	Body ListBooksResponse
}

type CreateBookRequest struct {
	Title       string `json:"title" validate:"required,min=1,max=500" doc:"Title"`
	Author      string `json:"author" validate:"required,min=1,max=200" doc:"Author"`
	ISBN        string `json:"isbn,omitempty" doc:"ISBN"`
	Publisher   string `json:"publisher,omitempty" doc:"Publisher"`
	PublishYear int    `json:"publish_year,omitempty" doc:"Publication year"`
	Description string `json:"description,omitempty" doc:"Description"`
	Price       int64  `json:"price,omitempty" doc:"Replacement cost in VND"`
	Quantity    int    `json:"quantity" validate:"required,gte=1" doc:"Number of copies"`
}

type CreateBookInput struct {
	Body CreateBookRequest
}

type BookOutput struct {
	Body BookResponse
}

type GetBookInput struct {
	ID string `path:"id" doc:"Book ID"`
}

type UpdateBookRequest struct {
	Title       *string `json:"title,omitempty" doc:"Title"`
	Author      *string `json:"author,omitempty" doc:"Author"`
	ISBN        *string `json:"isbn,omitempty" doc:"ISBN"`
	Publisher   *string `json:"publisher,omitempty" doc:"Publisher"`
	PublishYear *int    `json:"publish_year,omitempty" doc:"Publication year"`
	Description *string `json:"description,omitempty" doc:"Description"`
	Price       *int64  `json:"price,omitempty" doc:"Replacement cost in VND"`
	Quantity    *int    `json:"quantity,omitempty" doc:"Total copies owned"`
}

type UpdateBookInput struct {
	ID   string `path:"id" doc:"Book ID"`
	Body UpdateBookRequest
}

type BookLoansResponse struct {
	Loans []LoanResponse `json:"loans" doc:"Loans against this book, newest first"`
}

type BookLoansOutput struct {
	Body BookLoansResponse
}

// === Handlers ===

func (s *Server) handleListBooks(ctx context.Context, _ *struct{}) (*ListBooksOutput, error) {
	books, err := s.services.Book.List(ctx)
	if err != nil {
		return nil, err
	}

	resp := make([]BookResponse, len(books))
	for i, b := range books {
		resp[i] = mapBookResponse(b)
	}

	return &ListBooksOutput{Body: ListBooksResponse{Books: resp}}, nil
}

func (s *Server) handleCreateBook(ctx context.Context, input *CreateBookInput) (*BookOutput, error) {
	if _, err := s.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	book, err := s.services.Book.Create(ctx, service.CreateBookRequest{
		Title:       input.Body.Title,
		Author:      input.Body.Author,
		ISBN:        input.Body.ISBN,
		Publisher:   input.Body.Publisher,
		PublishYear: input.Body.PublishYear,
		Description: input.Body.Description,
		Price:       input.Body.Price,
		Quantity:    input.Body.Quantity,
	})
	if err != nil {
		return nil, err
	}

	return &BookOutput{Body: mapBookResponse(book)}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *GetBookInput) (*BookOutput, error) {
	book, err := s.services.Book.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &BookOutput{Body: mapBookResponse(book)}, nil
}

func (s *Server) handleUpdateBook(ctx context.Context, input *UpdateBookInput) (*BookOutput, error) {
	if _, err := s.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	book, err := s.services.Book.Update(ctx, input.ID, service.UpdateBookRequest{
		Title:       input.Body.Title,
		Author:      input.Body.Author,
		ISBN:        input.Body.ISBN,
		Publisher:   input.Body.Publisher,
		PublishYear: input.Body.PublishYear,
		Description: input.Body.Description,
		Price:       input.Body.Price,
		Quantity:    input.Body.Quantity,
	})
	if err != nil {
		return nil, err
	}

	return &BookOutput{Body: mapBookResponse(book)}, nil
}

func (s *Server) handleDeleteBook(ctx context.Context, input *GetBookInput) (*MessageOutput, error) {
	if _, err := s.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	if err := s.services.Book.Delete(ctx, input.ID); err != nil {
		return nil, err
	}

	return &MessageOutput{Body: MessageResponse{Message: "Book deleted"}}, nil
}

func (s *Server) handleGetBookLoans(ctx context.Context, input *GetBookInput) (*BookLoansOutput, error) {
	if _, err := s.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	loans, err := s.services.Circulation.ListBookLoans(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &BookLoansOutput{Body: BookLoansResponse{Loans: mapLoanResponses(loans)}}, nil
}
