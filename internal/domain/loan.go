package domain

import (
	"fmt"
	"strings"
	"time"
)

// LoanStatus represents where a loan sits in its lifecycle.
type LoanStatus string

const (
	// LoanRequested is the initial state: the student asked for the book, no copy is held yet.
	LoanRequested LoanStatus = "requested"
	// LoanBorrowed means an admin approved the request and a copy left the shelf.
	LoanBorrowed LoanStatus = "borrowed"
	// LoanReturned means the copy is back on the shelf. Terminal.
	LoanReturned LoanStatus = "returned"
	// LoanLost means the copy is gone and will not come back. Terminal.
	LoanLost LoanStatus = "lost"
	// LoanDamaged means the copy came back unusable. Terminal.
	LoanDamaged LoanStatus = "damaged"
	// LoanCancelled means the request was withdrawn or rejected before approval. Terminal.
	LoanCancelled LoanStatus = "cancelled"
)

// loanTransitions is the single source of truth for the loan state machine.
// Every mutating operation validates against it.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanRequested: {LoanBorrowed, LoanCancelled},
	LoanBorrowed:  {LoanReturned, LoanLost, LoanDamaged},
	LoanReturned:  {},
	LoanLost:      {},
	LoanDamaged:   {},
	LoanCancelled: {},
}

// Valid reports whether s is a known loan status.
func (s LoanStatus) Valid() bool {
	_, ok := loanTransitions[s]
	return ok
}

// AllowedTransitions returns the set of statuses a loan in status s may move to.
// Returns an empty slice for terminal (and unknown) statuses.
func (s LoanStatus) AllowedTransitions() []LoanStatus {
	next := loanTransitions[s]
	out := make([]LoanStatus, len(next))
	copy(out, next)
	return out
}

// CanTransitionTo reports whether moving from s to target is legal.
// A status never transitions to itself.
func (s LoanStatus) CanTransitionTo(target LoanStatus) bool {
	for _, next := range loanTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsFinal reports whether s is a terminal status with no outgoing transitions.
func (s LoanStatus) IsFinal() bool {
	next, ok := loanTransitions[s]
	return ok && len(next) == 0
}

// TransitionError describes why a loan cannot move from one status to another,
// naming the legal next states.
func (s LoanStatus) TransitionError(target LoanStatus) string {
	if s == target {
		return fmt.Sprintf("loan is already %s", s)
	}
	if s.IsFinal() {
		return fmt.Sprintf("loan status %s is final and cannot change", s)
	}
	next := loanTransitions[s]
	names := make([]string, len(next))
	for i, n := range next {
		names[i] = string(n)
	}
	return fmt.Sprintf("cannot transition loan from %s to %s; allowed: %s", s, target, strings.Join(names, ", "))
}

// Loan is one lending transaction between a user and a book copy.
// Loans are never deleted; terminal statuses keep them as history.
type Loan struct {
	Record
	UserID     string     `json:"user_id"`
	BookID     string     `json:"book_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"due_date"`
	// ConfirmedDate is set when an admin approves the request.
	ConfirmedDate *time.Time `json:"confirmed_date,omitempty"`
	// ReturnDate is set when the copy comes back.
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     LoanStatus `json:"status"`
	Notes      string     `json:"notes,omitempty"`
	// ExtensionCount is how many times the due date has been pushed out.
	ExtensionCount    int        `json:"extension_count"`
	LastExtensionDate *time.Time `json:"last_extension_date,omitempty"`
	// DueReminderDate is the last day a courtesy due-soon reminder went out.
	DueReminderDate *time.Time `json:"due_reminder_date,omitempty"`
}

// IsResolved returns true once the loan has reached a terminal status.
func (l *Loan) IsResolved() bool {
	return l.Status.IsFinal()
}

// IsOverdue reports whether the loan is past due at the given instant.
// Overdue is a derived predicate, never a stored status: a loan is overdue
// while it is still out (borrowed, not returned) and its due date has passed.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanBorrowed && l.ReturnDate == nil && now.After(l.DueDate)
}

// CanExtend reports whether the loan is still eligible for a due-date
// extension: it must be out, not yet overdue, and under the extension cap.
func (l *Loan) CanExtend(maxExtensions int, now time.Time) bool {
	return l.Status == LoanBorrowed && !l.IsOverdue(now) && l.ExtensionCount < maxExtensions
}

// DaysUntilDue returns the whole calendar days until the due date, zero when
// the due date is today or already past.
func (l *Loan) DaysUntilDue(now time.Time) int {
	due := l.DueDate.UTC().Truncate(24 * time.Hour)
	today := now.UTC().Truncate(24 * time.Hour)
	if !due.After(today) {
		return 0
	}
	return int(due.Sub(today) / (24 * time.Hour))
}

// OverdueDays returns the whole days the loan has run past its due date,
// comparing calendar dates so a loan due yesterday counts one day regardless
// of the hour. Zero when the loan is not overdue.
func (l *Loan) OverdueDays(now time.Time) int {
	if !l.IsOverdue(now) {
		return 0
	}
	due := l.DueDate.UTC().Truncate(24 * time.Hour)
	today := now.UTC().Truncate(24 * time.Hour)
	return int(today.Sub(due) / (24 * time.Hour))
}
