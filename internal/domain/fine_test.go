package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFineStatus_IsResolved(t *testing.T) {
	assert.False(t, FinePending.IsResolved())
	assert.False(t, FineOverdue.IsResolved())
	assert.False(t, FineEscalated.IsResolved())
	assert.True(t, FinePaid.IsResolved())
	assert.True(t, FineWaived.IsResolved())
	assert.True(t, FineWrittenOff.IsResolved())
}

func TestFineStatus_Valid(t *testing.T) {
	for _, s := range []FineStatus{FinePending, FinePaid, FineWaived, FineOverdue, FineEscalated, FineWrittenOff} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, FineStatus("refunded").Valid())
	assert.False(t, FineStatus("").Valid())
}

func TestFineOutcome(t *testing.T) {
	assert.Equal(t, FinePaid, OutcomePaid.Status())
	assert.Equal(t, FineWaived, OutcomeWaived.Status())

	assert.True(t, OutcomePaid.Valid())
	assert.True(t, OutcomeWaived.Valid())
	assert.False(t, FineOutcome("written_off").Valid(), "write-off is not a resolve outcome")
	assert.False(t, FineOutcome("").Valid())
}

func TestUserStatus_CanBorrow(t *testing.T) {
	u := &UserStatus{AccountStatus: AccountActive, CurrentBorrowCount: 2, MaxBorrowLimit: 5}
	assert.True(t, u.CanBorrow())

	u.CurrentBorrowCount = 5
	assert.False(t, u.CanBorrow(), "at the cap")

	u.CurrentBorrowCount = 0
	u.AccountStatus = AccountBlocked
	assert.False(t, u.CanBorrow())

	u.AccountStatus = AccountSuspended
	assert.False(t, u.CanBorrow())
}
