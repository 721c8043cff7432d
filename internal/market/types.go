package market

import (
	"errors"
	"time"
)

// Amounts are represented in minor units (e.g., cents). No floats.

// Task is a posted job open for bidding. A task is created by a student and
// mutated exactly once, when a bid is accepted.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	StudentID     string     `json:"student_id"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Budget        *int64     `json:"budget,omitempty"` // advisory only
	AcceptedBidID string     `json:"accepted_bid_id,omitempty"`
	Sequence      uint64     `json:"sequence"` // monotonic creation order
	CreatedAt     time.Time  `json:"created_at"`
}

// Accepted reports whether the task has left the Open state.
func (t Task) Accepted() bool { return t.AcceptedBidID != "" }

// Bid is a tutor's offer against a task. Bids are immutable once submitted.
// Bids placed after acceptance persist as history but have no further effect.
type Bid struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	TutorID   string    `json:"tutor_id"`
	Amount    int64     `json:"amount"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment is the money-owed record tied 1:1 to an accepted task. Its amount is
// frozen from the accepted bid at acceptance time.
type Payment struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	Amount    int64      `json:"amount"`
	Paid      bool       `json:"paid"`
	CreatedAt time.Time  `json:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// TaskInput carries the caller-supplied fields of a new task.
type TaskInput struct {
	Title       string
	Description string
	DueDate     *time.Time
	Budget      *int64
}

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidAmount   = errors.New("invalid amount (must be >= 0)")
	ErrBidTaskMismatch = errors.New("bid does not belong to task")
	ErrAlreadyAccepted = errors.New("task already accepted")
	ErrAlreadyPaid     = errors.New("payment already settled")
)
