package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerAdminRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "runOverdueSweep",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/sweep",
		Summary:     "Run overdue sweep",
		Description: "Runs the overdue fine sweep immediately",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleRunOverdueSweep)

	huma.Register(s.api, huma.Operation{
		OperationID: "reconcileUser",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/users/{id}/reconcile",
		Summary:     "Reconcile user counters",
		Description: "Recomputes a user's cached counters from the loans and fines tables",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleReconcileUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "blockUser",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/users/{id}/block",
		Summary:     "Block user",
		Description: "Blocks a user's account from borrowing",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleBlockUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "unblockUser",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/users/{id}/unblock",
		Summary:     "Unblock user",
		Description: "Restores a blocked account to active",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleUnblockUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "setUserBorrowLimit",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/users/{id}/borrow-limit",
		Summary:     "Set borrow limit",
		Description: "Overrides a user's concurrent borrow cap",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleSetBorrowLimit)
}

// === DTOs ===

type SweepFailureResponse struct {
	LoanID string `json:"loan_id" doc:"Loan the sweep could not process"`
	Reason string `json:"reason" doc:"What went wrong"`
}

type SweepResponse struct {
	Processed int                    `json:"processed" doc:"Overdue loans examined"`
	Succeeded int                    `json:"succeeded" doc:"Loans processed cleanly"`
	Failed    int                    `json:"failed" doc:"Loans that errored"`
	Failures  []SweepFailureResponse `json:"failures,omitempty" doc:"Per-loan failure details"`
}

type SweepOutput struct {
	Body SweepResponse
}

type ReconcileResponse struct {
	UserID            string `json:"user_id" doc:"Reconciled user"`
	BorrowCountBefore int    `json:"borrow_count_before" doc:"Cached borrow count going in"`
	BorrowCountAfter  int    `json:"borrow_count_after" doc:"Borrow count recomputed from loans"`
	Drift             bool   `json:"drift" doc:"True when the cache had wandered"`
	OutstandingBefore int64  `json:"outstanding_before" doc:"Cached outstanding fines going in"`
	OutstandingAfter  int64  `json:"outstanding_after" doc:"Outstanding fines recomputed from fines"`
}

type ReconcileOutput struct {
	Body ReconcileResponse
}

type BlockUserRequest struct {
	Reason string     `json:"reason" validate:"required" doc:"Why the account is blocked"`
	Until  *time.Time `json:"until,omitempty" doc:"When the block lifts; empty for indefinite"`
}

type BlockUserInput struct {
	ID   string `path:"id" doc:"User ID"`
	Body BlockUserRequest
}

type SetBorrowLimitRequest struct {
	Limit int `json:"limit" validate:"required,gte=1" doc:"New concurrent borrow cap"`
}

type SetBorrowLimitInput struct {
	ID   string `path:"id" doc:"User ID"`
	Body SetBorrowLimitRequest
}

// === Handlers ===

func (s *Server) handleRunOverdueSweep(ctx context.Context, _ *struct{}) (*SweepOutput, error) {
	if _, err := s.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	result, err := s.services.Overdue.RunSweep(ctx)
	if err != nil {
		return nil, err
	}

	failures := make([]SweepFailureResponse, len(result.Failures))
	for i, f := range result.Failures {
		failures[i] = SweepFailureResponse{LoanID: f.LoanID, Reason: f.Reason}
	}

	return &SweepOutput{Body: SweepResponse{
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Failures:  failures,
	}}, nil
}

func (s *Server) handleReconcileUser(ctx context.Context, input *UserPathInput) (*ReconcileOutput, error) {
	if _, err := s.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	result, err := s.services.UserStatus.Reconcile(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	return &ReconcileOutput{Body: ReconcileResponse{
		UserID:            result.UserID,
		BorrowCountBefore: result.BorrowCountBefore,
		BorrowCountAfter:  result.BorrowCountAfter,
		Drift:             result.Drift,
		OutstandingBefore: result.OutstandingBefore,
		OutstandingAfter:  result.OutstandingAfter,
	}}, nil
}

func (s *Server) handleBlockUser(ctx context.Context, input *BlockUserInput) (*UserStatusOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.services.UserStatus.Block(ctx, actorID, input.ID, input.Body.Reason, input.Body.Until)
	if err != nil {
		return nil, err
	}

	return &UserStatusOutput{Body: mapUserStatusResponse(status)}, nil
}

func (s *Server) handleUnblockUser(ctx context.Context, input *UserPathInput) (*UserStatusOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.services.UserStatus.Unblock(ctx, actorID, input.ID)
	if err != nil {
		return nil, err
	}

	return &UserStatusOutput{Body: mapUserStatusResponse(status)}, nil
}

func (s *Server) handleSetBorrowLimit(ctx context.Context, input *SetBorrowLimitInput) (*UserStatusOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.services.UserStatus.SetBorrowLimit(ctx, actorID, input.ID, input.Body.Limit)
	if err != nil {
		return nil, err
	}

	return &UserStatusOutput{Body: mapUserStatusResponse(status)}, nil
}
