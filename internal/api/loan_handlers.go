package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/circulateapp/circulate-server/internal/domain"
)

func (s *Server) registerLoanRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "requestBorrow",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans",
		Summary:     "Request a borrow",
		Description: "Creates a loan request for a book on behalf of the caller",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleRequestBorrow)

	huma.Register(s.api, huma.Operation{
		OperationID: "getLoan",
		Method:      http.MethodGet,
		Path:        "/api/v1/loans/{id}",
		Summary:     "Get loan",
		Description: "Returns a loan by ID",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "getLoanTransitions",
		Method:      http.MethodGet,
		Path:        "/api/v1/loans/{id}/transitions",
		Summary:     "Get allowed transitions",
		Description: "Returns the statuses this loan may legally move to",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetLoanTransitions)

	huma.Register(s.api, huma.Operation{
		OperationID: "approveLoan",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/approve",
		Summary:     "Approve loan",
		Description: "Approves a requested loan and hands a copy over",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleApproveLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancelLoan",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/cancel",
		Summary:     "Cancel loan request",
		Description: "Withdraws or rejects a loan request before approval",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleCancelLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "extendLoan",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/extend",
		Summary:     "Extend due date",
		Description: "Pushes a borrowed loan's due date out before it runs overdue",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleExtendLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "returnLoan",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/return",
		Summary:     "Confirm return",
		Description: "Confirms the copy is back; issues a lateness fine when overdue",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleReturnLoan)

	huma.Register(s.api, huma.Operation{
		OperationID: "reportLoanLost",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/lost",
		Summary:     "Report lost",
		Description: "Closes the loan as lost without restocking the copy",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleReportLost)

	huma.Register(s.api, huma.Operation{
		OperationID: "reportLoanDamaged",
		Method:      http.MethodPost,
		Path:        "/api/v1/loans/{id}/damaged",
		Summary:     "Report damaged",
		Description: "Closes the loan as damaged without restocking the copy",
		Tags:        []string{"Loans"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleReportDamaged)
}

// === DTOs ===

type RequestBorrowRequest struct {
	BookID string `json:"book_id" validate:"required" doc:"Book to borrow"`
	// UserID lets an admin file a request on a member's behalf.
	// Regular callers must leave it empty.
	UserID string `json:"user_id,omitempty" doc:"Borrow on behalf of this user (admin only)"`
}

type RequestBorrowInput struct {
	Body RequestBorrowRequest
}

type LoanOutput struct {
	Body LoanResponse
}

type GetLoanInput struct {
	ID string `path:"id" doc:"Loan ID"`
}

type LoanTransitionsResponse struct {
	Status      string   `json:"status" doc:"Current loan status"`
	Transitions []string `json:"transitions" doc:"Statuses the loan may move to"`
}

type LoanTransitionsOutput struct {
	Body LoanTransitionsResponse
}

type ApproveLoanInput struct {
	ID string `path:"id" doc:"Loan ID"`
}

type ApprovalResponse struct {
	Loan LoanResponse `json:"loan" doc:"Approved loan"`
	Book BookResponse `json:"book" doc:"Book with decremented availability"`
}

type ApprovalOutput struct {
	Body ApprovalResponse
}

type CancelLoanRequest struct {
	Notes string `json:"notes,omitempty" doc:"Why the request was withdrawn"`
}

type CancelLoanInput struct {
	ID   string `path:"id" doc:"Loan ID"`
	Body CancelLoanRequest
}

type ExtendLoanRequest struct {
	// DueDate overrides the default extension; it must land after the
	// current due date. Empty extends by the configured default.
	DueDate *time.Time `json:"due_date,omitempty" doc:"New due date (default: current due date plus the extension period)"`
}

type ExtendLoanInput struct {
	ID   string `path:"id" doc:"Loan ID"`
	Body ExtendLoanRequest
}

type ReturnLoanInput struct {
	ID string `path:"id" doc:"Loan ID"`
}

type ReturnResponse struct {
	Loan     LoanResponse  `json:"loan" doc:"Returned loan"`
	DaysLate int           `json:"days_late" doc:"Whole days the loan ran past its due date"`
	Fine     *FineResponse `json:"fine,omitempty" doc:"Lateness fine issued, if any"`
}

type ReturnOutput struct {
	Body ReturnResponse
}

type CloseLoanRequest struct {
	Notes string `json:"notes,omitempty" doc:"Circumstances of the loss or damage"`
}

type CloseLoanInput struct {
	ID   string `path:"id" doc:"Loan ID"`
	Body CloseLoanRequest
}

// === Handlers ===

func (s *Server) handleRequestBorrow(ctx context.Context, input *RequestBorrowInput) (*LoanOutput, error) {
	actor, err := CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	userID := actor.UserID
	if input.Body.UserID != "" && input.Body.UserID != actor.UserID {
		if _, err := s.RequireAdmin(ctx); err != nil {
			return nil, err
		}
		userID = input.Body.UserID
	}

	loan, err := s.services.Circulation.RequestBorrow(ctx, userID, input.Body.BookID)
	if err != nil {
		return nil, err
	}

	return &LoanOutput{Body: mapLoanResponse(loan)}, nil
}

func (s *Server) handleGetLoan(ctx context.Context, input *GetLoanInput) (*LoanOutput, error) {
	loan, err := s.services.Circulation.GetLoan(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSelfOrAdmin(ctx, loan.UserID); err != nil {
		return nil, err
	}

	return &LoanOutput{Body: mapLoanResponse(loan)}, nil
}

func (s *Server) handleGetLoanTransitions(ctx context.Context, input *GetLoanInput) (*LoanTransitionsOutput, error) {
	loan, err := s.services.Circulation.GetLoan(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSelfOrAdmin(ctx, loan.UserID); err != nil {
		return nil, err
	}

	transitions, err := s.services.Circulation.AllowedTransitions(loan.Status)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(transitions))
	for i, t := range transitions {
		names[i] = string(t)
	}

	return &LoanTransitionsOutput{Body: LoanTransitionsResponse{
		Status:      string(loan.Status),
		Transitions: names,
	}}, nil
}

func (s *Server) handleApproveLoan(ctx context.Context, input *ApproveLoanInput) (*ApprovalOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.services.Circulation.Approve(ctx, actorID, input.ID)
	if err != nil {
		return nil, err
	}

	return &ApprovalOutput{Body: ApprovalResponse{
		Loan: mapLoanResponse(result.Loan),
		Book: mapBookResponse(result.Book),
	}}, nil
}

func (s *Server) handleCancelLoan(ctx context.Context, input *CancelLoanInput) (*LoanOutput, error) {
	loan, err := s.services.Circulation.GetLoan(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	// The requester may withdraw their own request; admins may reject any.
	actorID, err := s.RequireSelfOrAdmin(ctx, loan.UserID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.services.Circulation.Cancel(ctx, actorID, input.ID, input.Body.Notes)
	if err != nil {
		return nil, err
	}

	return &LoanOutput{Body: mapLoanResponse(cancelled)}, nil
}

func (s *Server) handleExtendLoan(ctx context.Context, input *ExtendLoanInput) (*LoanOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	loan, err := s.services.Circulation.Extend(ctx, actorID, input.ID, input.Body.DueDate)
	if err != nil {
		return nil, err
	}

	return &LoanOutput{Body: mapLoanResponse(loan)}, nil
}

func (s *Server) handleReturnLoan(ctx context.Context, input *ReturnLoanInput) (*ReturnOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.services.Circulation.ConfirmReturn(ctx, actorID, input.ID)
	if err != nil {
		return nil, err
	}

	resp := ReturnResponse{
		Loan:     mapLoanResponse(result.Loan),
		DaysLate: result.DaysLate,
	}
	if result.Fine != nil {
		fine := mapFineResponse(result.Fine)
		resp.Fine = &fine
	}

	return &ReturnOutput{Body: resp}, nil
}

func (s *Server) handleReportLost(ctx context.Context, input *CloseLoanInput) (*LoanOutput, error) {
	return s.closeLoan(ctx, input, domain.LoanLost)
}

func (s *Server) handleReportDamaged(ctx context.Context, input *CloseLoanInput) (*LoanOutput, error) {
	return s.closeLoan(ctx, input, domain.LoanDamaged)
}

func (s *Server) closeLoan(ctx context.Context, input *CloseLoanInput, target domain.LoanStatus) (*LoanOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	var loan *domain.Loan
	if target == domain.LoanLost {
		loan, err = s.services.Circulation.ReportLost(ctx, actorID, input.ID, input.Body.Notes)
	} else {
		loan, err = s.services.Circulation.ReportDamaged(ctx, actorID, input.ID, input.Body.Notes)
	}
	if err != nil {
		return nil, err
	}

	return &LoanOutput{Body: mapLoanResponse(loan)}, nil
}
