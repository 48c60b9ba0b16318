package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/identity"
	"github.com/circulateapp/circulate-server/internal/notify"
	"github.com/circulateapp/circulate-server/internal/service"
	"github.com/circulateapp/circulate-server/internal/store/sqlite"
)

// testEnvelope mirrors the response envelope for assertions.
type testEnvelope[T any] struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

const (
	adminHeaders  = "X-User-ID: admin-1"
	adminRole     = "X-User-Role: admin"
	memberHeaders = "X-User-ID: member-1"
)

// apiTestServer wraps the API server for handler tests.
type apiTestServer struct {
	*Server
	api humatest.TestAPI
}

func setupTestServer(t *testing.T) *apiTestServer {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "circulate-api-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := sqlite.Open(filepath.Join(tmpDir, "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Circulation: config.CirculationConfig{
			LoanPeriodDays: 14,
			MaxBorrowLimit: 5,
			MaxExtensions:  2,
			ExtensionDays:  7,
		},
		Fines: config.FinesConfig{
			DailyFine:                   5000,
			MaxFineAmount:               500000,
			PaymentDueDays:              30,
			BorrowBlockThreshold:        50000,
			AutoBlockThreshold:          100000,
			EscalationReminderThreshold: 3,
		},
		Sweep: config.SweepConfig{
			Interval:         time.Hour,
			InitialDelay:     time.Second,
			ReminderInterval: 72 * time.Hour,
		},
	}

	fineService := service.NewFineService(st, cfg, logger)
	services := &Services{
		Book:        service.NewBookService(st, logger),
		Circulation: service.NewCirculationService(st, fineService, cfg, logger),
		Fine:        fineService,
		UserStatus:  service.NewUserStatusService(st, cfg, logger),
		Overdue:     service.NewOverdueService(st, fineService, notify.NewLogGateway(logger), cfg, logger),
	}

	router := chi.NewRouter()
	router.Use(identityMiddleware(identity.NewHeaderProvider()))

	humaConfig := huma.DefaultConfig("Circulate API Test", "1.0.0")
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	api := humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s := &Server{
		store:    st,
		services: services,
		identity: identity.NewHeaderProvider(),
		router:   router,
		api:      api,
		logger:   logger,
	}
	s.registerRoutes()

	return &apiTestServer{Server: s, api: humatest.Wrap(t, api)}
}

// createTestBook creates a catalog entry through the API and returns its ID.
func (ts *apiTestServer) createTestBook(t *testing.T, quantity int) string {
	t.Helper()

	resp := ts.api.Post("/api/v1/books", adminHeaders, adminRole, map[string]any{
		"title":    "The Name of the Wind",
		"author":   "Patrick Rothfuss",
		"quantity": quantity,
	})
	require.Equal(t, http.StatusOK, resp.Code, "create book failed: %s", resp.Body.String())

	var envelope testEnvelope[BookResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Data.ID)

	return envelope.Data.ID
}

func TestRequestBorrow_RequiresIdentity(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createTestBook(t, 2)

	resp := ts.api.Post("/api/v1/loans", map[string]any{
		"book_id": bookID,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestBorrowLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createTestBook(t, 2)

	// Member requests a borrow.
	resp := ts.api.Post("/api/v1/loans", memberHeaders, map[string]any{
		"book_id": bookID,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var loanEnv testEnvelope[LoanResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &loanEnv))
	assert.True(t, loanEnv.Success)
	assert.Equal(t, "requested", loanEnv.Data.Status)
	assert.Equal(t, "member-1", loanEnv.Data.UserID)
	loanID := loanEnv.Data.ID

	// Admin approves; a copy leaves the shelf.
	resp = ts.api.Post("/api/v1/loans/"+loanID+"/approve", adminHeaders, adminRole, map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var approveEnv testEnvelope[ApprovalResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &approveEnv))
	assert.Equal(t, "borrowed", approveEnv.Data.Loan.Status)
	assert.Equal(t, 1, approveEnv.Data.Book.AvailableQuantity)

	// Admin confirms the return; the copy is restocked.
	resp = ts.api.Post("/api/v1/loans/"+loanID+"/return", adminHeaders, adminRole, map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var returnEnv testEnvelope[ReturnResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &returnEnv))
	assert.Equal(t, "returned", returnEnv.Data.Loan.Status)
	assert.Zero(t, returnEnv.Data.DaysLate)
	assert.Nil(t, returnEnv.Data.Fine)

	resp = ts.api.Get("/api/v1/books/"+bookID, memberHeaders)
	require.Equal(t, http.StatusOK, resp.Code)

	var bookEnv testEnvelope[BookResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &bookEnv))
	assert.Equal(t, 2, bookEnv.Data.AvailableQuantity)
}

func TestExtendLoanThroughAPI(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createTestBook(t, 1)

	resp := ts.api.Post("/api/v1/loans", memberHeaders, map[string]any{
		"book_id": bookID,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var loanEnv testEnvelope[LoanResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &loanEnv))
	loanID := loanEnv.Data.ID

	resp = ts.api.Post("/api/v1/loans/"+loanID+"/approve", adminHeaders, adminRole, map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var approveEnv testEnvelope[ApprovalResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &approveEnv))
	dueBefore := approveEnv.Data.Loan.DueDate

	// Members cannot extend their own loans.
	resp = ts.api.Post("/api/v1/loans/"+loanID+"/extend", memberHeaders, map[string]any{})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Post("/api/v1/loans/"+loanID+"/extend", adminHeaders, adminRole, map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var extendEnv testEnvelope[LoanResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &extendEnv))
	assert.Equal(t, 1, extendEnv.Data.ExtensionCount)
	assert.True(t, extendEnv.Data.DueDate.After(dueBefore))
	assert.NotNil(t, extendEnv.Data.LastExtensionDate)
}

func TestApproveLoan_RequiresAdmin(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createTestBook(t, 1)

	resp := ts.api.Post("/api/v1/loans", memberHeaders, map[string]any{
		"book_id": bookID,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var loanEnv testEnvelope[LoanResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &loanEnv))

	resp = ts.api.Post("/api/v1/loans/"+loanEnv.Data.ID+"/approve", memberHeaders, map[string]any{})
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestGetLoan_OtherUserForbidden(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createTestBook(t, 1)

	resp := ts.api.Post("/api/v1/loans", memberHeaders, map[string]any{
		"book_id": bookID,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var loanEnv testEnvelope[LoanResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &loanEnv))

	resp = ts.api.Get("/api/v1/loans/"+loanEnv.Data.ID, "X-User-ID: member-2")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	// The owner and an admin both may.
	resp = ts.api.Get("/api/v1/loans/"+loanEnv.Data.ID, memberHeaders)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/loans/"+loanEnv.Data.ID, adminHeaders, adminRole)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCancelLoan(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createTestBook(t, 1)

	resp := ts.api.Post("/api/v1/loans", memberHeaders, map[string]any{
		"book_id": bookID,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var loanEnv testEnvelope[LoanResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &loanEnv))

	resp = ts.api.Post("/api/v1/loans/"+loanEnv.Data.ID+"/cancel", memberHeaders, map[string]any{
		"notes": "changed my mind",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var cancelEnv testEnvelope[LoanResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cancelEnv))
	assert.Equal(t, "cancelled", cancelEnv.Data.Status)

	// Terminal loans refuse further transitions.
	resp = ts.api.Post("/api/v1/loans/"+loanEnv.Data.ID+"/approve", adminHeaders, adminRole, map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestRequestBorrow_DuplicateConflict(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createTestBook(t, 3)

	resp := ts.api.Post("/api/v1/loans", memberHeaders, map[string]any{
		"book_id": bookID,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Post("/api/v1/loans", memberHeaders, map[string]any{
		"book_id": bookID,
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	var envelope testEnvelope[struct{}]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.False(t, envelope.Success)
}

func TestFinePaymentThroughAPI(t *testing.T) {
	ts := setupTestServer(t)

	// Admin issues a standalone fine against the member.
	resp := ts.api.Post("/api/v1/fines", adminHeaders, adminRole, map[string]any{
		"user_id": "member-1",
		"amount":  25000,
		"reason":  "lost library card",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var fineEnv testEnvelope[FineResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &fineEnv))
	assert.Equal(t, "pending", fineEnv.Data.Status)
	fineID := fineEnv.Data.ID

	// The member sees it on their account.
	resp = ts.api.Get("/api/v1/users/member-1/status", memberHeaders)
	require.Equal(t, http.StatusOK, resp.Code)

	var statusEnv testEnvelope[UserStatusResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &statusEnv))
	assert.Equal(t, int64(25000), statusEnv.Data.TotalOutstandingFines)

	// Admin settles it.
	resp = ts.api.Post("/api/v1/fines/"+fineID+"/pay", adminHeaders, adminRole, map[string]any{
		"notes": "paid at front desk",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var payEnv testEnvelope[FineResolutionResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payEnv))
	assert.Equal(t, "paid", payEnv.Data.Fine.Status)
	assert.False(t, payEnv.Data.LoanReturned)

	// Paying twice is rejected.
	resp = ts.api.Post("/api/v1/fines/"+fineID+"/pay", adminHeaders, adminRole, map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.Code)

	// The audit trail shows issuance and payment.
	resp = ts.api.Get("/api/v1/fines/"+fineID+"/history", memberHeaders)
	require.Equal(t, http.StatusOK, resp.Code)

	var historyEnv testEnvelope[FineHistoryResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &historyEnv))
	require.Len(t, historyEnv.Data.Actions, 2)
	assert.Equal(t, "fine_issued", historyEnv.Data.Actions[0].Type)
	assert.Equal(t, "payment_received", historyEnv.Data.Actions[1].Type)
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope testEnvelope[HealthResponse]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "healthy", envelope.Data.Status)
	assert.Equal(t, "healthy", envelope.Data.Components["database"].Status)
}
