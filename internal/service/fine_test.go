package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulateapp/circulate-server/internal/domain"
	"github.com/circulateapp/circulate-server/internal/errors"
)

func TestIssueFine(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		Amount: 25000,
		Reason: "lost library card",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FinePending, fine.Status)
	assert.Equal(t, int64(25000), fine.Amount)
	require.NotNil(t, fine.DueDate)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(25000), status.TotalOutstandingFines)
	assert.Equal(t, 1, status.OverdueFinesCount)

	history, err := e.fines.History(ctx, fine.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionFineIssued, history[0].Type)
	assert.Equal(t, "usr-admin", history[0].ActorID)

	_, err = e.fines.Issue(ctx, "usr-admin", IssueFineRequest{UserID: "usr-alice", Amount: 0, Reason: "x"})
	require.ErrorIs(t, err, errors.ErrValidation)
}

func TestResolveCascadesReturn(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -10))

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		LoanID: loan.ID,
		Amount: 50000,
		Reason: ReasonOverdue,
	})
	require.NoError(t, err)

	result, err := e.fines.Resolve(ctx, "usr-admin", fine.ID, domain.OutcomePaid, "cash at the desk")
	require.NoError(t, err)
	assert.True(t, result.LoanReturned)
	assert.Equal(t, book.ID, result.BookID)
	assert.Equal(t, domain.FinePaid, result.Fine.Status)
	require.NotNil(t, result.Fine.PaidDate)

	gotLoan, err := e.circ.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanReturned, gotLoan.Status)
	require.NotNil(t, gotLoan.ReturnDate)

	gotBook, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotBook.AvailableQuantity)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Zero(t, status.CurrentBorrowCount)
	assert.Zero(t, status.TotalOutstandingFines)

	history, err := e.fines.History(ctx, fine.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionFineIssued, history[0].Type)
	assert.Equal(t, domain.ActionPaymentReceived, history[1].Type)
}

func TestResolveAtMostOnce(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -10))

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		LoanID: loan.ID,
		Amount: 50000,
		Reason: ReasonOverdue,
	})
	require.NoError(t, err)

	_, err = e.fines.Resolve(ctx, "usr-admin", fine.ID, domain.OutcomePaid, "")
	require.NoError(t, err)

	// The second resolve must fail and leave every side effect untouched.
	_, err = e.fines.Resolve(ctx, "usr-admin", fine.ID, domain.OutcomeWaived, "")
	require.ErrorIs(t, err, errors.ErrAlreadyProcessed)

	gotFine, err := e.fines.Get(ctx, fine.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FinePaid, gotFine.Status)

	gotBook, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotBook.AvailableQuantity)

	history, err := e.fines.History(ctx, fine.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestResolveWaivedRunsSameCascade(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -10))

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		LoanID: loan.ID,
		Amount: 50000,
		Reason: ReasonOverdue,
	})
	require.NoError(t, err)

	result, err := e.fines.Resolve(ctx, "usr-admin", fine.ID, domain.OutcomeWaived, "first offence")
	require.NoError(t, err)
	assert.True(t, result.LoanReturned)
	assert.Equal(t, domain.FineWaived, result.Fine.Status)
	assert.Nil(t, result.Fine.PaidDate)

	history, err := e.fines.History(ctx, fine.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionFineWaived, history[1].Type)
}

func TestResolveSkipsCascadeForClosedLoan(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -4))

	// Returned late; the lateness fine outlives the loan.
	result, err := e.circ.ConfirmReturn(ctx, "usr-admin", loan.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Fine)

	resolved, err := e.fines.Resolve(ctx, "usr-admin", result.Fine.ID, domain.OutcomePaid, "")
	require.NoError(t, err)
	assert.False(t, resolved.LoanReturned)

	// The book was restocked by the return, not again by the resolve.
	gotBook, err := e.books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotBook.AvailableQuantity)
}

func TestUpdateRoutesResolutionThroughCascade(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -10))

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		LoanID: loan.ID,
		Amount: 50000,
		Reason: ReasonOverdue,
	})
	require.NoError(t, err)

	paid := domain.FinePaid
	updated, err := e.fines.Update(ctx, "usr-admin", fine.ID, UpdateFineRequest{Status: &paid})
	require.NoError(t, err)
	assert.Equal(t, domain.FinePaid, updated.Status)

	// The cascade ran exactly as it would through Resolve.
	gotLoan, err := e.circ.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanReturned, gotLoan.Status)

	history, err := e.fines.History(ctx, fine.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionPaymentReceived, history[1].Type)
}

func TestUpdateAmountAdjustsOutstanding(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		Amount: 20000,
		Reason: "damaged cover",
	})
	require.NoError(t, err)

	amount := int64(35000)
	updated, err := e.fines.Update(ctx, "usr-admin", fine.ID, UpdateFineRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, int64(35000), updated.Amount)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(35000), status.TotalOutstandingFines)
}

func TestUpdateCannotBypassEscalation(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		Amount: 20000,
		Reason: "damaged cover",
	})
	require.NoError(t, err)

	// Escalation carries a reason and a reminder threshold; a plain
	// status patch must not sidestep either.
	escalated := domain.FineEscalated
	_, err = e.fines.Update(ctx, "usr-admin", fine.ID, UpdateFineRequest{Status: &escalated})
	require.ErrorIs(t, err, errors.ErrValidation)

	overdue := domain.FineOverdue
	_, err = e.fines.Update(ctx, "usr-admin", fine.ID, UpdateFineRequest{Status: &overdue})
	require.ErrorIs(t, err, errors.ErrValidation)

	bogus := domain.FineStatus("refunded")
	_, err = e.fines.Update(ctx, "usr-admin", fine.ID, UpdateFineRequest{Status: &bogus})
	require.ErrorIs(t, err, errors.ErrValidation)

	got, err := e.fines.Get(ctx, fine.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FinePending, got.Status)
}

func TestWriteOffClearsDebtWithoutReturn(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)
	loan := e.createBorrowedLoan(t, "usr-alice", book.ID, time.Now().UTC().AddDate(0, 0, -30))

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		LoanID: loan.ID,
		Amount: 60000,
		Reason: ReasonOverdue,
	})
	require.NoError(t, err)

	written, err := e.fines.WriteOff(ctx, "usr-admin", fine.ID, "uncollectable")
	require.NoError(t, err)
	assert.Equal(t, domain.FineWrittenOff, written.Status)

	// Writing the debt off says nothing about the book.
	gotLoan, err := e.circ.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanBorrowed, gotLoan.Status)

	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Zero(t, status.TotalOutstandingFines)

	_, err = e.fines.WriteOff(ctx, "usr-admin", fine.ID, "")
	require.ErrorIs(t, err, errors.ErrAlreadyProcessed)
}

func TestAutoBlockAndUnblock(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()
	book := e.createBook(t, 1)

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		Amount: 150000,
		Reason: "replacement cost",
	})
	require.NoError(t, err)

	// 150000 crosses the 100000 auto-block ceiling.
	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.True(t, status.IsBlocked())

	_, err = e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.ErrorIs(t, err, errors.ErrForbidden)

	history, err := e.fines.History(ctx, fine.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionAccountBlocked, history[1].Type)

	// Paying the debt lifts the block automatically.
	_, err = e.fines.Resolve(ctx, "usr-admin", fine.ID, domain.OutcomePaid, "")
	require.NoError(t, err)

	status, err = e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.False(t, status.IsBlocked())

	_, err = e.circ.RequestBorrow(ctx, "usr-alice", book.ID)
	require.NoError(t, err)
}

func TestManualBlockSurvivesResolution(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		Amount: 10000,
		Reason: "late fee",
	})
	require.NoError(t, err)

	_, err = e.users.Block(ctx, "usr-admin", "usr-alice", "repeated damage", nil)
	require.NoError(t, err)

	_, err = e.fines.Resolve(ctx, "usr-admin", fine.ID, domain.OutcomePaid, "")
	require.NoError(t, err)

	// Paying off fines does not touch a block an admin placed by hand.
	status, err := e.users.Get(ctx, "usr-alice")
	require.NoError(t, err)
	assert.True(t, status.IsBlocked())
}

func TestEscalateRequiresReminders(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()

	fine, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{
		UserID: "usr-alice",
		Amount: 10000,
		Reason: ReasonOverdue,
	})
	require.NoError(t, err)

	_, err = e.fines.Escalate(ctx, "usr-admin", fine.ID, "no response")
	require.ErrorIs(t, err, errors.ErrValidation)
}

func TestFineStatistics(t *testing.T) {
	e := setupTest(t)
	ctx := context.Background()

	f1, err := e.fines.Issue(ctx, "usr-admin", IssueFineRequest{UserID: "usr-alice", Amount: 10000, Reason: ReasonOverdue})
	require.NoError(t, err)
	_, err = e.fines.Issue(ctx, "usr-admin", IssueFineRequest{UserID: "usr-bob", Amount: 20000, Reason: ReasonOverdue})
	require.NoError(t, err)

	_, err = e.fines.Resolve(ctx, "usr-admin", f1.ID, domain.OutcomePaid, "")
	require.NoError(t, err)

	stats, err := e.fines.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFines)
	assert.Equal(t, 1, stats.OpenFines)
	assert.Equal(t, 1, stats.PaidFines)
	assert.Equal(t, int64(20000), stats.TotalOutstanding)
	assert.Equal(t, int64(10000), stats.TotalCollected)
}
