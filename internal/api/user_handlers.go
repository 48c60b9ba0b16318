package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerUserRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getUserStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}/status",
		Summary:     "Get user status",
		Description: "Returns a user's borrowing standing",
		Tags:        []string{"Users"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetUserStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "canUserBorrow",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}/can-borrow",
		Summary:     "Check borrow eligibility",
		Description: "Advisory check whether the user may borrow right now",
		Tags:        []string{"Users"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleCanUserBorrow)

	huma.Register(s.api, huma.Operation{
		OperationID: "listUserLoans",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}/loans",
		Summary:     "List user loans",
		Description: "Returns a user's loans, newest first",
		Tags:        []string{"Users"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListUserLoans)

	huma.Register(s.api, huma.Operation{
		OperationID: "listUserFines",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}/fines",
		Summary:     "List user fines",
		Description: "Returns a user's fines, newest first",
		Tags:        []string{"Users"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListUserFines)
}

// === DTOs ===

type UserPathInput struct {
	ID string `path:"id" doc:"User ID"`
}

type UserStatusOutput struct {
	Body UserStatusResponse
}

type BorrowEligibilityResponse struct {
	Allowed bool   `json:"allowed" doc:"Whether a borrow request would be accepted"`
	Reason  string `json:"reason,omitempty" doc:"Why borrowing is refused"`
}

type BorrowEligibilityOutput struct {
	Body BorrowEligibilityResponse
}

type UserLoansResponse struct {
	Loans []LoanResponse `json:"loans" doc:"Loans, newest first"`
}

type UserLoansOutput struct {
	Body UserLoansResponse
}

type UserFinesResponse struct {
	Fines []FineResponse `json:"fines" doc:"Fines, newest first"`
}

type UserFinesOutput struct {
	Body UserFinesResponse
}

// === Handlers ===

func (s *Server) handleGetUserStatus(ctx context.Context, input *UserPathInput) (*UserStatusOutput, error) {
	if _, err := s.RequireSelfOrAdmin(ctx, input.ID); err != nil {
		return nil, err
	}

	status, err := s.services.UserStatus.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &UserStatusOutput{Body: mapUserStatusResponse(status)}, nil
}

func (s *Server) handleCanUserBorrow(ctx context.Context, input *UserPathInput) (*BorrowEligibilityOutput, error) {
	if _, err := s.RequireSelfOrAdmin(ctx, input.ID); err != nil {
		return nil, err
	}

	eligibility, err := s.services.UserStatus.CanBorrow(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &BorrowEligibilityOutput{Body: BorrowEligibilityResponse{
		Allowed: eligibility.Allowed,
		Reason:  eligibility.Reason,
	}}, nil
}

func (s *Server) handleListUserLoans(ctx context.Context, input *UserPathInput) (*UserLoansOutput, error) {
	if _, err := s.RequireSelfOrAdmin(ctx, input.ID); err != nil {
		return nil, err
	}

	loans, err := s.services.Circulation.ListUserLoans(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &UserLoansOutput{Body: UserLoansResponse{Loans: mapLoanResponses(loans)}}, nil
}

func (s *Server) handleListUserFines(ctx context.Context, input *UserPathInput) (*UserFinesOutput, error) {
	if _, err := s.RequireSelfOrAdmin(ctx, input.ID); err != nil {
		return nil, err
	}

	fines, err := s.services.Fine.ListByUser(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &UserFinesOutput{Body: UserFinesResponse{Fines: mapFineResponses(fines)}}, nil
}
