package domain

import "time"

// AccountStatus represents whether a user may borrow at all.
type AccountStatus string

const (
	// AccountActive allows normal borrowing.
	AccountActive AccountStatus = "active"
	// AccountSuspended temporarily pauses borrowing without a debt cause.
	AccountSuspended AccountStatus = "suspended"
	// AccountBlocked stops borrowing, usually over unpaid fines.
	AccountBlocked AccountStatus = "blocked"
)

// UserStatus tracks a user's borrowing standing.
//
// CurrentBorrowCount is a materialized cache of the number of that user's
// loans currently in borrowed status. It is maintained transactionally next
// to every loan transition and repairable via reconcile; the loans table
// remains the source of truth.
type UserStatus struct {
	UserID        string        `json:"user_id"`
	AccountStatus AccountStatus `json:"account_status"`

	CurrentBorrowCount int `json:"current_borrow_count"`
	MaxBorrowLimit     int `json:"max_borrow_limit"`

	// TotalOutstandingFines is the sum of this user's unresolved fine amounts in VND.
	TotalOutstandingFines int64 `json:"total_outstanding_fines"`
	// OverdueFinesCount counts fines issued against this user that are still open.
	OverdueFinesCount int `json:"overdue_fines_count"`

	BlockReason  string     `json:"block_reason,omitempty"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanBorrow reports whether the account standing alone permits a new loan.
// Callers still check the live loan count and outstanding-fine thresholds.
func (u *UserStatus) CanBorrow() bool {
	return u.AccountStatus == AccountActive && u.CurrentBorrowCount < u.MaxBorrowLimit
}

// IsBlocked reports whether the account is blocked.
func (u *UserStatus) IsBlocked() bool {
	return u.AccountStatus == AccountBlocked
}
