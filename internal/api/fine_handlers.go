package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/service"
)

func (s *Server) registerFineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "issueFine",
		Method:      http.MethodPost,
		Path:        "/api/v1/fines",
		Summary:     "Issue fine",
		Description: "Issues a fine against a user, optionally linked to a loan",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleIssueFine)

	huma.Register(s.api, huma.Operation{
		OperationID: "getFineStatistics",
		Method:      http.MethodGet,
		Path:        "/api/v1/fines/statistics",
		Summary:     "Fine statistics",
		Description: "Returns aggregate fine counts and amounts",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleFineStatistics)

	huma.Register(s.api, huma.Operation{
		OperationID: "getFine",
		Method:      http.MethodGet,
		Path:        "/api/v1/fines/{id}",
		Summary:     "Get fine",
		Description: "Returns a fine by ID",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetFine)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateFine",
		Method:      http.MethodPatch,
		Path:        "/api/v1/fines/{id}",
		Summary:     "Update fine",
		Description: "Patches an open fine; status changes route through resolution",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleUpdateFine)

	huma.Register(s.api, huma.Operation{
		OperationID: "getFineHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/fines/{id}/history",
		Summary:     "Fine history",
		Description: "Returns the append-only audit trail for a fine",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleFineHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "payFine",
		Method:      http.MethodPost,
		Path:        "/api/v1/fines/{id}/pay",
		Summary:     "Pay fine",
		Description: "Settles a fine and returns the linked loan if still out",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handlePayFine)

	huma.Register(s.api, huma.Operation{
		OperationID: "waiveFine",
		Method:      http.MethodPost,
		Path:        "/api/v1/fines/{id}/waive",
		Summary:     "Waive fine",
		Description: "Forgives a fine; runs the same cascade as payment",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleWaiveFine)

	huma.Register(s.api, huma.Operation{
		OperationID: "writeOffFine",
		Method:      http.MethodPost,
		Path:        "/api/v1/fines/{id}/write-off",
		Summary:     "Write off fine",
		Description: "Abandons the debt without payment and without touching the loan",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleWriteOffFine)

	huma.Register(s.api, huma.Operation{
		OperationID: "escalateFine",
		Method:      http.MethodPost,
		Path:        "/api/v1/fines/{id}/escalate",
		Summary:     "Escalate fine",
		Description: "Refers a repeatedly ignored fine to stronger enforcement",
		Tags:        []string{"Fines"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleEscalateFine)
}

// === DTOs ===

type IssueFineRequest struct {
	UserID      string     `json:"user_id" validate:"required" doc:"User to fine"`
	LoanID      string     `json:"loan_id,omitempty" doc:"Loan that caused the fine"`
	Amount      int64      `json:"amount" validate:"required,gt=0" doc:"Amount in VND"`
	Reason      string     `json:"reason" validate:"required" doc:"Why the fine is issued"`
	Description string     `json:"description,omitempty" doc:"Details"`
	DueDate     *time.Time `json:"due_date,omitempty" doc:"Payment deadline; defaults to the configured window"`
}

type IssueFineInput struct {
	Body IssueFineRequest
}

type FineOutput struct {
	Body FineResponse
}

type GetFineInput struct {
	ID string `path:"id" doc:"Fine ID"`
}

type UpdateFineRequest struct {
	Amount      *int64     `json:"amount,omitempty" doc:"New amount in VND"`
	Description *string    `json:"description,omitempty" doc:"New description"`
	DueDate     *time.Time `json:"due_date,omitempty" doc:"New payment deadline"`
	Status      *string    `json:"status,omitempty" doc:"New status; paid and waived run the resolution cascade"`
	Notes       string     `json:"notes,omitempty" doc:"Audit note for the change"`
}

type UpdateFineInput struct {
	ID   string `path:"id" doc:"Fine ID"`
	Body UpdateFineRequest
}

type FineHistoryResponse struct {
	Actions []FineActionResponse `json:"actions" doc:"Audit trail, oldest first"`
}

type FineHistoryOutput struct {
	Body FineHistoryResponse
}

type ResolveFineRequest struct {
	Notes string `json:"notes,omitempty" doc:"Audit note for the resolution"`
}

type ResolveFineInput struct {
	ID   string `path:"id" doc:"Fine ID"`
	Body ResolveFineRequest
}

type FineResolutionResponse struct {
	Fine         FineResponse `json:"fine" doc:"Resolved fine"`
	LoanReturned bool         `json:"loan_returned" doc:"True when the linked loan cascaded to returned"`
	BookID       string       `json:"book_id,omitempty" doc:"Book restocked by the cascade"`
}

type FineResolutionOutput struct {
	Body FineResolutionResponse
}

type EscalateFineRequest struct {
	Reason string `json:"reason" validate:"required" doc:"Why the fine is escalated"`
}

type EscalateFineInput struct {
	ID   string `path:"id" doc:"Fine ID"`
	Body EscalateFineRequest
}

type FineStatisticsResponse struct {
	TotalFines       int   `json:"total_fines" doc:"All fines ever issued"`
	OpenFines        int   `json:"open_fines" doc:"Fines still counting toward debt"`
	PaidFines        int   `json:"paid_fines" doc:"Settled fines"`
	WaivedFines      int   `json:"waived_fines" doc:"Forgiven fines"`
	WrittenOffFines  int   `json:"written_off_fines" doc:"Abandoned fines"`
	EscalatedFines   int   `json:"escalated_fines" doc:"Fines referred to enforcement"`
	TotalOutstanding int64 `json:"total_outstanding" doc:"Open amount in VND"`
	TotalCollected   int64 `json:"total_collected" doc:"Collected amount in VND"`
}

type FineStatisticsOutput struct {
	Body FineStatisticsResponse
}

// === Handlers ===

func (s *Server) handleIssueFine(ctx context.Context, input *IssueFineInput) (*FineOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	fine, err := s.services.Fine.Issue(ctx, actorID, service.IssueFineRequest{
		UserID:      input.Body.UserID,
		LoanID:      input.Body.LoanID,
		Amount:      input.Body.Amount,
		Reason:      input.Body.Reason,
		Description: input.Body.Description,
		DueDate:     input.Body.DueDate,
	})
	if err != nil {
		return nil, err
	}

	return &FineOutput{Body: mapFineResponse(fine)}, nil
}

func (s *Server) handleGetFine(ctx context.Context, input *GetFineInput) (*FineOutput, error) {
	fine, err := s.services.Fine.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSelfOrAdmin(ctx, fine.UserID); err != nil {
		return nil, err
	}

	return &FineOutput{Body: mapFineResponse(fine)}, nil
}

func (s *Server) handleUpdateFine(ctx context.Context, input *UpdateFineInput) (*FineOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	req := service.UpdateFineRequest{
		Amount:      input.Body.Amount,
		Description: input.Body.Description,
		DueDate:     input.Body.DueDate,
		Notes:       input.Body.Notes,
	}
	if input.Body.Status != nil {
		status := domain.FineStatus(*input.Body.Status)
		req.Status = &status
	}

	fine, err := s.services.Fine.Update(ctx, actorID, input.ID, req)
	if err != nil {
		return nil, err
	}

	return &FineOutput{Body: mapFineResponse(fine)}, nil
}

func (s *Server) handleFineHistory(ctx context.Context, input *GetFineInput) (*FineHistoryOutput, error) {
	fine, err := s.services.Fine.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.RequireSelfOrAdmin(ctx, fine.UserID); err != nil {
		return nil, err
	}

	actions, err := s.services.Fine.History(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := make([]FineActionResponse, len(actions))
	for i, a := range actions {
		resp[i] = mapFineActionResponse(a)
	}

	return &FineHistoryOutput{Body: FineHistoryResponse{Actions: resp}}, nil
}

func (s *Server) handlePayFine(ctx context.Context, input *ResolveFineInput) (*FineResolutionOutput, error) {
	return s.resolveFine(ctx, input, domain.OutcomePaid)
}

func (s *Server) handleWaiveFine(ctx context.Context, input *ResolveFineInput) (*FineResolutionOutput, error) {
	return s.resolveFine(ctx, input, domain.OutcomeWaived)
}

func (s *Server) resolveFine(ctx context.Context, input *ResolveFineInput, outcome domain.FineOutcome) (*FineResolutionOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.services.Fine.Resolve(ctx, actorID, input.ID, outcome, input.Body.Notes)
	if err != nil {
		return nil, err
	}

	return &FineResolutionOutput{Body: FineResolutionResponse{
		Fine:         mapFineResponse(result.Fine),
		LoanReturned: result.LoanReturned,
		BookID:       result.BookID,
	}}, nil
}

func (s *Server) handleWriteOffFine(ctx context.Context, input *ResolveFineInput) (*FineOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	fine, err := s.services.Fine.WriteOff(ctx, actorID, input.ID, input.Body.Notes)
	if err != nil {
		return nil, err
	}

	return &FineOutput{Body: mapFineResponse(fine)}, nil
}

func (s *Server) handleEscalateFine(ctx context.Context, input *EscalateFineInput) (*FineOutput, error) {
	actorID, err := s.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	fine, err := s.services.Fine.Escalate(ctx, actorID, input.ID, input.Body.Reason)
	if err != nil {
		return nil, err
	}

	return &FineOutput{Body: mapFineResponse(fine)}, nil
}

func (s *Server) handleFineStatistics(ctx context.Context, _ *struct{}) (*FineStatisticsOutput, error) {
	if _, err := s.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	stats, err := s.services.Fine.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	return &FineStatisticsOutput{Body: FineStatisticsResponse{
		TotalFines:       stats.TotalFines,
		OpenFines:        stats.OpenFines,
		PaidFines:        stats.PaidFines,
		WaivedFines:      stats.WaivedFines,
		WrittenOffFines:  stats.WrittenOffFines,
		EscalatedFines:   stats.EscalatedFines,
		TotalOutstanding: stats.TotalOutstanding,
		TotalCollected:   stats.TotalCollected,
	}}, nil
}
