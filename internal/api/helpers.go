package api

import (
	"time"

	"github.com/circulateapp/circulate-server/internal/domain"
)

// MessageResponse contains a simple message.
type MessageResponse struct {
	Message string `json:"message" doc:"Human-readable result message"`
}

// MessageOutput wraps the message response for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// === Shared resource DTOs ===

type BookResponse struct {
	ID                string    `json:"id" doc:"Book ID"`
	Title             string    `json:"title" doc:"Title"`
	Author            string    `json:"author" doc:"Author"`
	ISBN              string    `json:"isbn,omitempty" doc:"ISBN"`
	Publisher         string    `json:"publisher,omitempty" doc:"Publisher"`
	PublishYear       int       `json:"publish_year,omitempty" doc:"Publication year"`
	Description       string    `json:"description,omitempty" doc:"Description"`
	Price             int64     `json:"price,omitempty" doc:"Replacement cost in VND"`
	Quantity          int       `json:"quantity" doc:"Total copies owned"`
	AvailableQuantity int       `json:"available_quantity" doc:"Copies currently on the shelf"`
	CreatedAt         time.Time `json:"created_at" doc:"Creation time"`
	UpdatedAt         time.Time `json:"updated_at" doc:"Last update time"`
}

type LoanResponse struct {
	ID                string     `json:"id" doc:"Loan ID"`
	UserID            string     `json:"user_id" doc:"Borrowing user"`
	BookID            string     `json:"book_id" doc:"Borrowed book"`
	BorrowDate        time.Time  `json:"borrow_date" doc:"When the loan was requested"`
	DueDate           time.Time  `json:"due_date" doc:"When the copy is due back"`
	ConfirmedDate     *time.Time `json:"confirmed_date,omitempty" doc:"When an admin approved the request"`
	ReturnDate        *time.Time `json:"return_date,omitempty" doc:"When the copy came back"`
	Status            string     `json:"status" doc:"Loan status"`
	Notes             string     `json:"notes,omitempty" doc:"Free-form notes"`
	ExtensionCount    int        `json:"extension_count" doc:"Times the due date was pushed out"`
	LastExtensionDate *time.Time `json:"last_extension_date,omitempty" doc:"When the loan was last extended"`
	CreatedAt         time.Time  `json:"created_at" doc:"Creation time"`
	UpdatedAt         time.Time  `json:"updated_at" doc:"Last update time"`
}

type FineResponse struct {
	ID               string     `json:"id" doc:"Fine ID"`
	UserID           string     `json:"user_id" doc:"Fined user"`
	LoanID           string     `json:"loan_id,omitempty" doc:"Linked loan, if any"`
	Amount           int64      `json:"amount" doc:"Amount in VND"`
	Reason           string     `json:"reason" doc:"Why the fine was issued"`
	Description      string     `json:"description,omitempty" doc:"Details"`
	Status           string     `json:"status" doc:"Fine status"`
	FineDate         time.Time  `json:"fine_date" doc:"When the fine was issued"`
	PaidDate         *time.Time `json:"paid_date,omitempty" doc:"When the fine was settled"`
	DueDate          *time.Time `json:"due_date,omitempty" doc:"Payment deadline"`
	ReminderCount    int        `json:"reminder_count" doc:"Reminders sent so far"`
	LastReminderDate *time.Time `json:"last_reminder_date,omitempty" doc:"Most recent reminder"`
	EscalationReason string     `json:"escalation_reason,omitempty" doc:"Why the fine was escalated"`
	EscalationDate   *time.Time `json:"escalation_date,omitempty" doc:"When the fine was escalated"`
	CreatedAt        time.Time  `json:"created_at" doc:"Creation time"`
	UpdatedAt        time.Time  `json:"updated_at" doc:"Last update time"`
}

type FineActionResponse struct {
	ID          string    `json:"id" doc:"Action ID"`
	FineID      string    `json:"fine_id" doc:"Fine this action belongs to"`
	ActorID     string    `json:"actor_id" doc:"Who performed the action"`
	Type        string    `json:"type" doc:"Action type"`
	Description string    `json:"description" doc:"What happened"`
	Amount      int64     `json:"amount,omitempty" doc:"Amount involved, if any"`
	Notes       string    `json:"notes,omitempty" doc:"Free-form notes"`
	ActionDate  time.Time `json:"action_date" doc:"When the action happened"`
	CreatedAt   time.Time `json:"created_at" doc:"When the row was written"`
}

type UserStatusResponse struct {
	UserID                string     `json:"user_id" doc:"User ID"`
	AccountStatus         string     `json:"account_status" doc:"active, suspended, or blocked"`
	CurrentBorrowCount    int        `json:"current_borrow_count" doc:"Loans currently out"`
	MaxBorrowLimit        int        `json:"max_borrow_limit" doc:"Concurrent borrow cap"`
	TotalOutstandingFines int64      `json:"total_outstanding_fines" doc:"Unresolved fine total in VND"`
	OverdueFinesCount     int        `json:"overdue_fines_count" doc:"Open fines against this user"`
	BlockReason           string     `json:"block_reason,omitempty" doc:"Why the account is blocked"`
	BlockedUntil          *time.Time `json:"blocked_until,omitempty" doc:"When a temporary block lifts"`
	CreatedAt             time.Time  `json:"created_at" doc:"Creation time"`
	UpdatedAt             time.Time  `json:"updated_at" doc:"Last update time"`
}

// === Mappers ===

func mapBookResponse(b *domain.Book) BookResponse {
	return BookResponse{
		ID:                b.ID,
		Title:             b.Title,
		Author:            b.Author,
		ISBN:              b.ISBN,
		Publisher:         b.Publisher,
		PublishYear:       b.PublishYear,
		Description:       b.Description,
		Price:             b.Price,
		Quantity:          b.Quantity,
		AvailableQuantity: b.AvailableQuantity,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func mapLoanResponse(l *domain.Loan) LoanResponse {
	return LoanResponse{
		ID:                l.ID,
		UserID:            l.UserID,
		BookID:            l.BookID,
		BorrowDate:        l.BorrowDate,
		DueDate:           l.DueDate,
		ConfirmedDate:     l.ConfirmedDate,
		ReturnDate:        l.ReturnDate,
		Status:            string(l.Status),
		Notes:             l.Notes,
		ExtensionCount:    l.ExtensionCount,
		LastExtensionDate: l.LastExtensionDate,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

func mapLoanResponses(loans []*domain.Loan) []LoanResponse {
	out := make([]LoanResponse, len(loans))
	for i, l := range loans {
		out[i] = mapLoanResponse(l)
	}
	return out
}

func mapFineResponse(f *domain.Fine) FineResponse {
	return FineResponse{
		ID:               f.ID,
		UserID:           f.UserID,
		LoanID:           f.LoanID,
		Amount:           f.Amount,
		Reason:           f.Reason,
		Description:      f.Description,
		Status:           string(f.Status),
		FineDate:         f.FineDate,
		PaidDate:         f.PaidDate,
		DueDate:          f.DueDate,
		ReminderCount:    f.ReminderCount,
		LastReminderDate: f.LastReminderDate,
		EscalationReason: f.EscalationReason,
		EscalationDate:   f.EscalationDate,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

func mapFineResponses(fines []*domain.Fine) []FineResponse {
	out := make([]FineResponse, len(fines))
	for i, f := range fines {
		out[i] = mapFineResponse(f)
	}
	return out
}

func mapFineActionResponse(a *domain.FineAction) FineActionResponse {
	return FineActionResponse{
		ID:          a.ID,
		FineID:      a.FineID,
		ActorID:     a.ActorID,
		Type:        string(a.Type),
		Description: a.Description,
		Amount:      a.Amount,
		Notes:       a.Notes,
		ActionDate:  a.ActionDate,
		CreatedAt:   a.CreatedAt,
	}
}

func mapUserStatusResponse(u *domain.UserStatus) UserStatusResponse {
	return UserStatusResponse{
		UserID:                u.UserID,
		AccountStatus:         string(u.AccountStatus),
		CurrentBorrowCount:    u.CurrentBorrowCount,
		MaxBorrowLimit:        u.MaxBorrowLimit,
		TotalOutstandingFines: u.TotalOutstandingFines,
		OverdueFinesCount:     u.OverdueFinesCount,
		BlockReason:           u.BlockReason,
		BlockedUntil:          u.BlockedUntil,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	}
}
