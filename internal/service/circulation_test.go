package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulateapp/circulate-server/internal/config"
	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/errors"
	"github.com/circulateapp/circulate-server/internal/id"
	"github.com/circulateapp/circulate-server/internal/notify"
	"github.com/circulateapp/circulate-server/internal/store/sqlite"
)

type fakeGateway struct {
	fail    bool
	sent    []notify.Reminder
	sentDue []notify.Reminder
}

func (g *fakeGateway) SendOverdueReminder(ctx context.Context, r notify.Reminder) error {
	if g.fail {
		return errors.Internal("gateway down")
	}
	g.sent = append(g.sent, r)
	return nil
}

func (g *fakeGateway) SendDueReminder(ctx context.Context, r notify.Reminder) error {
	if g.fail {
		return errors.Internal("gateway down")
	}
	g.sentDue = append(g.sentDue, r)
	return nil
}

type testEnv struct {
	store   *sqlite.Store
	books   *BookService
	circ    *CirculationService
	fines   *FineService
	users   *UserStatusService
	sweep   *OverdueService
	gateway *fakeGateway
	cfg     *config.Config
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Circulation: config.CirculationConfig{
			LoanPeriodDays: 14,
			MaxBorrowLimit: 2,
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
			Enabled:          true,
			Interval:         time.Hour,
			ReminderInterval: 0,
			DueSoonDays:      3,
		},
	}

	gateway := &fakeGateway{}
	fines := NewFineService(store, cfg, logger)
	return &testEnv{
		store:   store,
		books:   NewBookService(store, logger),
		circ:    NewCirculationService(store, fines, cfg, logger),
		fines:   fines,
		users:   NewUserStatusService(store, cfg, logger),
		sweep:   NewOverdueService(store, fines, gateway, cfg, logger),
		gateway: gateway,
		cfg:     cfg,
	}
}

func (e *testEnv) createBook(t *testing.T, quantity int) *domain.Book {
	t.Helper()
	book, err := e.books.Create(context.Background(), CreateBookRequest{
		Title:    "Clean Architecture",
		Author:   "Robert C. Martin",
		Price:    420000,
		Quantity: quantity,
	})
	require.NoError(t, err)
	return book
}

// createBorrowedLoan plants a loan already in borrowed status with the given
// due date, with counters and availability consistent with a real approval.
func (e *testEnv) createBorrowedLoan(t *testing.T, userID, bookID string, due time.Time) *domain.Loan {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC()
	loan := &domain.Loan{
		UserID:        userID,
		BookID:        bookID,
		BorrowDate:    due.AddDate(0, 0, -e.cfg.Circulation.LoanPeriodDays),
		DueDate:       due,
		ConfirmedDate: &now,
		Status:        domain.LoanBorrowed,
	}
	loan.ID = id.MustGenerate(id.PrefixLoan)
	loan.InitTimestamps()

	err := e.store.Transact(ctx, func(tx *sqlite.Tx) error {
		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}
		if err := tx.DecrementAvailable(ctx, bookID); err != nil {
			return err
		}
		if _, err := tx.EnsureUserStatus(ctx, userID, e.cfg.Circulation.MaxBorrowLimit); err != nil {
			return err
		}
		return tx.IncrementBorrowCount(ctx, userID)
	})
	require.NoError(t, err)
	return loan
}

func TestBorrowRoundTrip(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 2)

	loan, err := e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRequested, loan.Status)

	// Requesting does not reserve a copy.
	got, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableQuantity)

	approved, err := e.circ.Approve(ctx, "usr-admin", loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanBorrowed, approved.Loan.Status)
	assert.NotNil(t, approved.Loan.ConfirmedDate)
	assert.Equal(t, 1, approved.Book.AvailableQuantity)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentBorrowCount)

	result, err := e.circ.ConfirmReturn(ctx, "usr-admin", loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanReturned, result.Loan.Status)
	assert.NotNil(t, result.Loan.ReturnDate)
	assert.Zero(t, result.DaysLate)
	assert.Nil(t, result.Fine)

	got, err = e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableQuantity)

	status, err = e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Zero(t, status.CurrentBorrowCount)
}

func TestBorrowLimitRefusedBeforeCreate(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book1 := e.createBook(t, 1)
	book2 := e.createBook(t, 1)
	book3 := e.createBook(t, 1)

	_, err := e.circ.RequestBorrow(ctx, "usr-alice", book1.ID)
	require.NoError(t, err)
	_, err = e.circ.RequestBorrow(ctx, "usr-alice", book2.ID)
	require.NoError(t, err)

	// Limit is 2; the third request must fail and leave no record.
	_, err = e.circ.RequestBorrow(ctx, "usr-alice", book3.ID)
	require.ErrorIs(t, err, errors.ErrLimitExceeded)

	loans, err := e.circ.ListUserLoans(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Len(t, loans, 2)
}

func TestBorrowRefusedWhileOverdue(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 2)
	e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -3))

	_, err := e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.ErrorIs(t, err, errors.ErrForbidden)
}

func TestDuplicateLoanConflict(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 3)

	_, err := e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.NoError(t, err)
	_, err = e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.ErrorIs(t, err, errors.ErrConflict)
}

func TestApproveLastCopy(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)

	loan1, err := e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.NoError(t, err)
	loan2, err := e.circ.RequestBorrow(ctx, "usr-bob", book.ID)
	require.NoError(t, err)

	_, err = e.circ.Approve(ctx, "usr-admin", loan1.ID)
	require.NoError(t, err)

	// Only one copy existed; the second approval loses.
	_, err = e.circ.Approve(ctx, "usr-admin", loan2.ID)
	require.ErrorIs(t, err, errors.ErrOutOfStock)

	got, err := e.circ.GetLoan(ctx, loan2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRequested, got.Status)
}

func TestApproveTwice(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 2)

	loan, err := e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.NoError(t, err)

	_, err = e.circ.Approve(ctx, "usr-admin", loan.ID)
	require.NoError(t, err)
	_, err = e.circ.Approve(ctx, "usr-admin", loan.ID)
	require.ErrorIs(t, err, errors.ErrInvalidTransition)

	// Inventory must not move twice.
	got, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableQuantity)
}

func TestCancelRequested(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)

	loan, err := e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.NoError(t, err)

	cancelled, err := e.circ.Cancel(ctx, "usr-alice", loan.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanCancelled, cancelled.Status)

	got, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableQuantity)

	// Terminal status; no way back.
	_, err = e.circ.Approve(ctx, "usr-admin", loan.ID)
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestLateReturnIssuesFine(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -4))

	result, err := e.circ.ConfirmReturn(ctx, "usr-admin", loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, result.DaysLate)
	require.NotNil(t, result.Fine)
	assert.Equal(t, int64(20000), result.Fine.Amount)
	assert.Equal(t, domain.FinePending, result.Fine.Status)
	assert.Equal(t, loan.ID, result.Fine.LoanID)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), status.TotalOutstandingFines)
	assert.Zero(t, status.CurrentBorrowCount)

	got, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableQuantity)
}

func TestReportLostNoRestock(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, 7))

	lost, err := e.circ.ReportLost(ctx, "usr-admin", loan.ID, "left on a train")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanLost, lost.Status)
	assert.Equal(t, "left on a train", lost.Notes)

	got, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Zero(t, got.AvailableQuantity)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Zero(t, status.CurrentBorrowCount)

	// Lost is terminal; the copy cannot come back.
	_, err = e.circ.ConfirmReturn(ctx, "usr-admin", loan.ID)
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestBlockedUserCannotBorrow(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)

	_, err := e.users.Block(ctx, "usr-admin", "usr-alice", "repeated damage", nil)
	require.NoError(t, err)

	_, err = e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.ErrorIs(t, err, errors.ErrForbidden)

	eligibility, err := e.users.CanBorrow(ctx, "usr-alice")
	require.NoError(t, err)
	assert.False(t, eligibility.Allowed)
	assert.Contains(t, eligibility.Reason, "blocked")

	_, err = e.users.Unblock(ctx, "usr-admin", "usr-alice")
	require.NoError(t, err)

	_, err = e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.NoError(t, err)
}

func TestAllowedTransitions(t *testing.T) {
	e := setupTest(t)

	next, err := e.circ.AllowedTransitions(domain.LoanRequested)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.LoanStatus{domain.LoanBorrowed, domain.LoanCancelled}, next)

	next, err = e.circ.AllowedTransitions(domain.LoanReturned)
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = e.circ.AllowedTransitions(domain.LoanStatus("misplaced"))
	require.ErrorIs(t, err, errors.ErrValidation)
}

func TestExtendPushesDueDate(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	due := time.Now().UTC().AddDate(0, 0, 5)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, due)

	extended, err := e.circ.Extend(ctx, "usr-admin", loan.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, extended.ExtensionCount)
	require.NotNil(t, extended.LastExtensionDate)
	assert.WithinDuration(t, due.AddDate(0, 0, 7), extended.DueDate, time.Second)

	// An explicit date must land after the current due date.
	early := extended.DueDate.AddDate(0, 0, -1)
	_, err = e.circ.Extend(ctx, "usr-admin", loan.ID, &early)
	require.ErrorIs(t, err, errors.ErrValidation)

	later := extended.DueDate.AddDate(0, 0, 10)
	extended, err = e.circ.Extend(ctx, "usr-admin", loan.ID, &later)
	require.NoError(t, err)
	assert.Equal(t, 2, extended.ExtensionCount)

	// The cap is two.
	_, err = e.circ.Extend(ctx, "usr-admin", loan.ID, nil)
	require.ErrorIs(t, err, errors.ErrLimitExceeded)
}

func TestExtendRefusedWhenOverdueOrNotBorrowed(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 2)

	late := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -2))
	_, err := e.circ.Extend(ctx, "usr-admin", late.ID, nil)
	require.ErrorIs(t, err, errors.ErrValidation)

	requested, err := e.circ.RequestBorrow(ctx, "usr-bob", book.ID)
	require.NoError(t, err)
	_, err = e.circ.Extend(ctx, "usr-admin", requested.ID, nil)
	require.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestReconcileRepairsDrift(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 2)
	e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, 7))

	// Corrupt the cached counter.
	err := e.store.Transact(ctx, func(tx *sqlite.Tx) error {
		return tx.SetBorrowCount(ctx, "usr-alice", 5)
	})
	require.NoError(t, err)

	result, err := e.users.Reconcile(ctx, "usr-alice")
	require.NoError(t, err)
	assert.True(t, result.Drift)
	assert.Equal(t, 5, result.BorrowCountBefore)
	assert.Equal(t, 1, result.BorrowCountAfter)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentBorrowCount)

	// A clean cache reconciles to itself.
	result, err = e.users.Reconcile(ctx, "usr-alice")
	require.NoError(t, err)
	assert.False(t, result.Drift)
}
