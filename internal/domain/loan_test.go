package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoanStatus_AllowedTransitions(t *testing.T) {
	tests := []struct {
		status  LoanStatus
		allowed []LoanStatus
	}{
		{LoanRequested, []LoanStatus{LoanBorrowed, LoanCancelled}},
		{LoanBorrowed, []LoanStatus{LoanReturned, LoanLost, LoanDamaged}},
		{LoanReturned, []LoanStatus{}},
		{LoanLost, []LoanStatus{}},
		{LoanDamaged, []LoanStatus{}},
		{LoanCancelled, []LoanStatus{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.ElementsMatch(t, tt.allowed, tt.status.AllowedTransitions())
		})
	}
}

func TestLoanStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, LoanRequested.CanTransitionTo(LoanBorrowed))
	assert.True(t, LoanRequested.CanTransitionTo(LoanCancelled))
	assert.True(t, LoanBorrowed.CanTransitionTo(LoanReturned))
	assert.True(t, LoanBorrowed.CanTransitionTo(LoanLost))
	assert.True(t, LoanBorrowed.CanTransitionTo(LoanDamaged))

	// Requested never skips straight to returned.
	assert.False(t, LoanRequested.CanTransitionTo(LoanReturned))
	// Borrowed can no longer be cancelled.
	assert.False(t, LoanBorrowed.CanTransitionTo(LoanCancelled))
	// No self-transitions.
	assert.False(t, LoanBorrowed.CanTransitionTo(LoanBorrowed))
	// Terminal states go nowhere.
	assert.False(t, LoanReturned.CanTransitionTo(LoanBorrowed))
	assert.False(t, LoanCancelled.CanTransitionTo(LoanRequested))
}

func TestLoanStatus_IsFinal(t *testing.T) {
	assert.False(t, LoanRequested.IsFinal())
	assert.False(t, LoanBorrowed.IsFinal())
	assert.True(t, LoanReturned.IsFinal())
	assert.True(t, LoanLost.IsFinal())
	assert.True(t, LoanDamaged.IsFinal())
	assert.True(t, LoanCancelled.IsFinal())

	// Unknown statuses are not "final", they are invalid.
	assert.False(t, LoanStatus("bogus").IsFinal())
	assert.False(t, LoanStatus("bogus").Valid())
}

func TestLoanStatus_TransitionError(t *testing.T) {
	msg := LoanRequested.TransitionError(LoanReturned)
	assert.Contains(t, msg, "requested")
	assert.Contains(t, msg, "returned")
	assert.Contains(t, msg, "borrowed", "message should name the legal next states")
	assert.Contains(t, msg, "cancelled")

	assert.Contains(t, LoanReturned.TransitionError(LoanBorrowed), "final")
	assert.Contains(t, LoanBorrowed.TransitionError(LoanBorrowed), "already")
}

func TestLoan_IsOverdue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	borrowed := &Loan{Status: LoanBorrowed, DueDate: now.Add(-48 * time.Hour)}
	assert.True(t, borrowed.IsOverdue(now))

	notDue := &Loan{Status: LoanBorrowed, DueDate: now.Add(24 * time.Hour)}
	assert.False(t, notDue.IsOverdue(now))

	// Overdue is derived only for loans still out.
	ret := now.Add(-time.Hour)
	returned := &Loan{Status: LoanReturned, DueDate: now.Add(-48 * time.Hour), ReturnDate: &ret}
	assert.False(t, returned.IsOverdue(now))

	requested := &Loan{Status: LoanRequested, DueDate: now.Add(-48 * time.Hour)}
	assert.False(t, requested.IsOverdue(now))
}

func TestLoan_OverdueDays(t *testing.T) {
	now := time.Date(2025, 6, 15, 1, 0, 0, 0, time.UTC)

	// Due yesterday evening: one calendar day overdue despite < 24h elapsed.
	loan := &Loan{Status: LoanBorrowed, DueDate: time.Date(2025, 6, 14, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, 1, loan.OverdueDays(now))

	loan.DueDate = time.Date(2025, 6, 5, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 10, loan.OverdueDays(now))

	loan.DueDate = now.Add(time.Hour)
	assert.Equal(t, 0, loan.OverdueDays(now))
}
