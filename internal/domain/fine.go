package domain

import "time"

// FineStatus represents where a fine sits in its lifecycle.
// Status only moves toward a terminal value; Paid, Waived and WrittenOff
// are final and a fine never leaves them.
type FineStatus string

const (
	// FinePending is the initial state of every issued fine.
	FinePending FineStatus = "pending"
	// FinePaid means the fine was settled in full. Terminal.
	FinePaid FineStatus = "paid"
	// FineWaived means the fine was forgiven. Terminal.
	FineWaived FineStatus = "waived"
	// FineOverdue marks a fine whose own payment deadline has passed.
	FineOverdue FineStatus = "overdue"
	// FineEscalated marks a fine referred to stronger enforcement after
	// repeated unacknowledged reminders.
	FineEscalated FineStatus = "escalated"
	// FineWrittenOff means the debt was abandoned without payment. Terminal.
	FineWrittenOff FineStatus = "written_off"
)

// IsResolved reports whether s is a terminal fine status.
func (s FineStatus) IsResolved() bool {
	return s == FinePaid || s == FineWaived || s == FineWrittenOff
}

// Valid reports whether s is a known fine status.
func (s FineStatus) Valid() bool {
	switch s {
	case FinePending, FinePaid, FineWaived, FineOverdue, FineEscalated, FineWrittenOff:
		return true
	}
	return false
}

// FineOutcome is the tagged resolution variant accepted by the shared
// resolve operation. Payment and waiver run the same cascade.
type FineOutcome string

const (
	// OutcomePaid settles the fine against a received payment.
	OutcomePaid FineOutcome = "paid"
	// OutcomeWaived forgives the fine.
	OutcomeWaived FineOutcome = "waived"
)

// Status returns the fine status an outcome resolves to.
func (o FineOutcome) Status() FineStatus {
	if o == OutcomeWaived {
		return FineWaived
	}
	return FinePaid
}

// Valid reports whether o is a known outcome.
func (o FineOutcome) Valid() bool {
	return o == OutcomePaid || o == OutcomeWaived
}

// Fine is a monetary penalty against a user, optionally tied to a loan.
type Fine struct {
	Record
	UserID string `json:"user_id"`
	// LoanID links the fine to the loan that caused it. Fines may also
	// exist on their own (e.g. a lost library card).
	LoanID string `json:"loan_id,omitempty"`
	// Amount in VND.
	Amount      int64      `json:"amount"`
	Reason      string     `json:"reason"`
	Description string     `json:"description,omitempty"`
	Status      FineStatus `json:"status"`

	FineDate time.Time  `json:"fine_date"`
	PaidDate *time.Time `json:"paid_date,omitempty"`
	// DueDate is the payment deadline for the fine itself.
	DueDate *time.Time `json:"due_date,omitempty"`

	ReminderCount    int        `json:"reminder_count"`
	LastReminderDate *time.Time `json:"last_reminder_date,omitempty"`

	EscalationReason string     `json:"escalation_reason,omitempty"`
	EscalationDate   *time.Time `json:"escalation_date,omitempty"`
}

// IsResolved reports whether the fine has reached a terminal status.
func (f *Fine) IsResolved() bool {
	return f.Status.IsResolved()
}

// IsOpen reports whether the fine still counts toward a user's outstanding debt.
func (f *Fine) IsOpen() bool {
	return !f.IsResolved()
}

// FineActionType labels an entry in a fine's audit trail.
type FineActionType string

const (
	// ActionFineIssued records the creation of the fine.
	ActionFineIssued FineActionType = "fine_issued"
	// ActionFineUpdated records a change to an open fine, such as the
	// accrued amount growing as a loan runs further overdue.
	ActionFineUpdated FineActionType = "fine_updated"
	// ActionReminderSent records a reminder delivered to the user.
	ActionReminderSent FineActionType = "reminder_sent"
	// ActionPaymentReceived records settlement of the fine.
	ActionPaymentReceived FineActionType = "payment_received"
	// ActionEscalated records referral to stronger enforcement.
	ActionEscalated FineActionType = "escalated"
	// ActionFineWaived records forgiveness of the fine.
	ActionFineWaived FineActionType = "fine_waived"
	// ActionFineWrittenOff records abandonment of the debt.
	ActionFineWrittenOff FineActionType = "fine_written_off"
	// ActionAccountSuspended records a suspension caused by this fine.
	ActionAccountSuspended FineActionType = "account_suspended"
	// ActionAccountBlocked records a block caused by this fine.
	ActionAccountBlocked FineActionType = "account_blocked"
)

// FineAction is one row of the append-only audit trail. Rows are never
// mutated or deleted; every fine-affecting operation appends exactly one.
type FineAction struct {
	ID     string `json:"id"`
	FineID string `json:"fine_id"`
	// ActorID is the user who performed the action (an admin, or the
	// system actor for sweep-issued entries).
	ActorID     string         `json:"actor_id"`
	Type        FineActionType `json:"type"`
	Description string         `json:"description"`
	// Amount involved in the action, if any.
	Amount int64  `json:"amount,omitempty"`
	Notes  string `json:"notes,omitempty"`

	ActionDate time.Time `json:"action_date"`
	CreatedAt  time.Time `json:"created_at"`
}

// SystemActorID identifies actions performed by the overdue sweep rather
// than a human admin.
const SystemActorID = "system"
