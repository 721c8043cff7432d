package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tutorly.org/internal/auth"
	"tutorly.org/internal/ids"
)

// Service defines the task-bid-payment lifecycle operations. Role and ownership
// checks live here, not in the transport layer: every mutation takes the
// authenticated principal and validates it against the entities it touches.
type Service interface {
	CreateTask(ctx context.Context, p auth.Principal, in TaskInput) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, limit int, beforeSeq uint64) ([]Task, uint64, error)
	ListTasksByStudent(ctx context.Context, studentID string) ([]Task, error)

	SubmitBid(ctx context.Context, p auth.Principal, taskID string, amount int64, message string) (Bid, error)
	ListBids(ctx context.Context, taskID string) ([]Bid, error)

	AcceptBid(ctx context.Context, p auth.Principal, taskID, bidID string) (Payment, error)

	GetPayment(ctx context.Context, id string) (Payment, error)
	PaymentForTask(ctx context.Context, taskID string) (Payment, error)
	MarkPaid(ctx context.Context, p auth.Principal, paymentID string) (Payment, error)
	ConfirmPayment(ctx context.Context, paymentID string) (Payment, error)
	ListPayments(ctx context.Context, p auth.Principal) ([]Payment, error)
}

// InMemory implements Service with in-process concurrency safety. A single
// mutex guards all entity maps, so the accept transition mutates the
// Task+Payment pair atomically: no reader ever observes an accepted task
// without its payment, or the other way around.
type InMemory struct {
	mu            sync.RWMutex
	tasks         map[string]*Task
	bids          map[string]*Bid
	payments      map[string]*Payment
	bidsByTask    map[string][]string // submission order
	paymentByTask map[string]string
	paymentOrder  []string // payment ids in creation order
	seq           uint64
	now           func() time.Time
}

// NewInMemory creates an empty marketplace store.
func NewInMemory() *InMemory {
	return &InMemory{
		tasks:         make(map[string]*Task),
		bids:          make(map[string]*Bid),
		payments:      make(map[string]*Payment),
		bidsByTask:    make(map[string][]string),
		paymentByTask: make(map[string]string),
		now:           time.Now,
	}
}

func (s *InMemory) CreateTask(ctx context.Context, p auth.Principal, in TaskInput) (Task, error) {
	if p.Role != auth.RoleStudent {
		return Task{}, ErrUnauthorized
	}
	if strings.TrimSpace(in.Title) == "" {
		return Task{}, ErrInvalidInput
	}
	if in.Budget != nil && *in.Budget < 0 {
		return Task{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	task := &Task{
		ID:          ids.New(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		StudentID:   p.ID,
		DueDate:     in.DueDate,
		Budget:      in.Budget,
		Sequence:    s.seq,
		CreatedAt:   s.now().UTC(),
	}
	s.tasks[task.ID] = task
	return *task, nil
}

func (s *InMemory) GetTask(ctx context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *task, nil
}

// ListTasks pages through tasks most-recent-first. beforeSeq == 0 starts from
// the newest task; pass the returned cursor to continue.
func (s *InMemory) ListTasks(ctx context.Context, limit int, beforeSeq uint64) ([]Task, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if beforeSeq != 0 && t.Sequence >= beforeSeq {
			continue
		}
		ordered = append(ordered, t)
	}
	sortTasksDesc(ordered)

	var res []Task
	var cursor uint64
	for _, t := range ordered {
		res = append(res, *t)
		cursor = t.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, cursor, nil
}

func (s *InMemory) ListTasksByStudent(ctx context.Context, studentID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := make([]*Task, 0)
	for _, t := range s.tasks {
		if t.StudentID == studentID {
			ordered = append(ordered, t)
		}
	}
	sortTasksDesc(ordered)

	res := make([]Task, 0, len(ordered))
	for _, t := range ordered {
		res = append(res, *t)
	}
	return res, nil
}

func (s *InMemory) SubmitBid(ctx context.Context, p auth.Principal, taskID string, amount int64, message string) (Bid, error) {
	if p.Role != auth.RoleTutor {
		return Bid{}, ErrUnauthorized
	}
	if amount < 0 {
		return Bid{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return Bid{}, ErrNotFound
	}

	bid := &Bid{
		ID:        ids.New(),
		TaskID:    taskID,
		TutorID:   p.ID,
		Amount:    amount,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	s.bids[bid.ID] = bid
	s.bidsByTask[taskID] = append(s.bidsByTask[taskID], bid.ID)
	return *bid, nil
}

// ListBids returns the task's bids in submission order.
func (s *InMemory) ListBids(ctx context.Context, taskID string) ([]Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}
	idsForTask := s.bidsByTask[taskID]
	res := make([]Bid, 0, len(idsForTask))
	for _, id := range idsForTask {
		res = append(res, *s.bids[id])
	}
	return res, nil
}

// AcceptBid performs the one-time Open -> Accepted transition. Under the write
// lock it sets the task's accepted bid and creates the payment in one step,
// with the bid's amount frozen at this instant. Exactly one concurrent caller
// wins; the rest observe ErrAlreadyAccepted.
func (s *InMemory) AcceptBid(ctx context.Context, p auth.Principal, taskID, bidID string) (Payment, error) {
	if p.Role != auth.RoleStudent {
		return Payment{}, ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if task.StudentID != p.ID {
		return Payment{}, ErrUnauthorized
	}
	bid, ok := s.bids[bidID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if bid.TaskID != taskID {
		return Payment{}, ErrBidTaskMismatch
	}
	if task.Accepted() {
		// Re-acceptance is rejected even for the already-accepted bid, so at
		// most one payment can ever exist per task.
		return Payment{}, ErrAlreadyAccepted
	}

	payment := &Payment{
		ID:        ids.New(),
		TaskID:    taskID,
		Amount:    bid.Amount,
		CreatedAt: s.now().UTC(),
	}
	task.AcceptedBidID = bidID
	s.payments[payment.ID] = payment
	s.paymentByTask[taskID] = payment.ID
	s.paymentOrder = append(s.paymentOrder, payment.ID)
	return *payment, nil
}

func (s *InMemory) GetPayment(ctx context.Context, id string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payment, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return *payment, nil
}

func (s *InMemory) PaymentForTask(ctx context.Context, taskID string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.paymentByTask[taskID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return *s.payments[id], nil
}

// MarkPaid settles a payment on behalf of the owning student. The transition is
// one-way: settling an already-paid payment fails with ErrAlreadyPaid instead
// of silently re-stamping paid_at.
func (s *InMemory) MarkPaid(ctx context.Context, p auth.Principal, paymentID string) (Payment, error) {
	if p.Role != auth.RoleStudent {
		return Payment{}, ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	task := s.tasks[payment.TaskID]
	if task == nil || task.StudentID != p.ID {
		return Payment{}, ErrUnauthorized
	}
	return s.settleLocked(payment)
}

// ConfirmPayment settles a payment on behalf of the external payment provider
// (webhook path). The caller is trusted; only the one-way invariant applies.
func (s *InMemory) ConfirmPayment(ctx context.Context, paymentID string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return s.settleLocked(payment)
}

func (s *InMemory) settleLocked(payment *Payment) (Payment, error) {
	if payment.Paid {
		return Payment{}, ErrAlreadyPaid
	}
	now := s.now().UTC()
	payment.Paid = true
	payment.PaidAt = &now
	return *payment, nil
}

// ListPayments returns payments visible to the principal: students see payments
// on tasks they own, tutors see payments created from their accepted bids.
func (s *InMemory) ListPayments(ctx context.Context, p auth.Principal) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Payment, 0)
	for _, id := range s.paymentOrder {
		payment := s.payments[id]
		task := s.tasks[payment.TaskID]
		if task == nil {
			continue
		}
		switch p.Role {
		case auth.RoleStudent:
			if task.StudentID == p.ID {
				res = append(res, *payment)
			}
		case auth.RoleTutor:
			if bid, ok := s.bids[task.AcceptedBidID]; ok && bid.TutorID == p.ID {
				res = append(res, *payment)
			}
		}
	}
	return res, nil
}

func sortTasksDesc(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Sequence > tasks[j].Sequence })
}
