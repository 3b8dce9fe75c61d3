package types

import (
	"time"

	"github.com/google/uuid"
)

// Expense is a single spending record owned by exactly one user.
type Expense struct {
	// ID is the server-assigned unique identifier of the expense.
	ID uuid.UUID `json:"id" db:"id"`

	// Description is free text describing what the money was spent on.
	Description string `json:"description" db:"description"`

	// Amount is the spent amount. Sign and precision are not constrained.
	Amount float64 `json:"amount" db:"amount"`

	// UserID references the owning user. It is taken from the
	// authenticated caller and never changes after creation.
	UserID uuid.UUID `json:"-" db:"user_id"`

	// ReceiptKey is the object storage key of the uploaded receipt,
	// or empty when no receipt was attached.
	ReceiptKey string `json:"-" db:"receipt_key"`

	CreatedAt time.Time `json:"-" db:"created_at"`
	UpdatedAt time.Time `json:"-" db:"updated_at"`
}

// ExpensePublic is the projection of an Expense returned to clients.
type ExpensePublic struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
}

// Public returns the client-facing projection of the expense.
func (e Expense) Public() ExpensePublic {
	return ExpensePublic{ID: e.ID, Description: e.Description, Amount: e.Amount}
}

// ExpenseEvent is published after an expense is created, updated or deleted.
type ExpenseEvent struct {
	Type        string    `json:"type"`
	ExpenseID   uuid.UUID `json:"expense_id"`
	UserID      uuid.UUID `json:"user_id"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	EventExpenseCreated = "expense.created"
	EventExpenseUpdated = "expense.updated"
	EventExpenseDeleted = "expense.deleted"
)
