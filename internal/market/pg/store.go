package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tutorly.org/internal/auth"
	"tutorly.org/internal/ids"
	"tutorly.org/internal/market"
)

// Store is the Postgres-backed marketplace repository. It implements both
// market.Service and auth.UserStore so a single connection pool owns all
// entity lifetimes.
type Store struct {
	db *sql.DB
}

var (
	_ market.Service = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- auth.UserStore ---

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		insert into users(id, name, email, password_hash, role, created_at)
		values ($1,$2,lower($3),$4,$5,$6)
		on conflict (email) do nothing
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrEmailInUse
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, name, email, password_hash, role, created_at
		from users where id=$1
	`, id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, name, email, password_hash, role, created_at
		from users where email=lower($1)
	`, email))
}

func (s *Store) scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}

// --- market.Service ---

func (s *Store) CreateTask(ctx context.Context, p auth.Principal, in market.TaskInput) (market.Task, error) {
	if p.Role != auth.RoleStudent {
		return market.Task{}, market.ErrUnauthorized
	}
	if in.Title == "" {
		return market.Task{}, market.ErrInvalidInput
	}
	if in.Budget != nil && *in.Budget < 0 {
		return market.Task{}, market.ErrInvalidAmount
	}

	id := ids.New()
	var seq uint64
	var created time.Time
	err := s.db.QueryRowContext(ctx, `
		insert into tasks(id, title, description, student_id, due_date, budget)
		values ($1,$2,$3,$4,$5,$6)
		returning seq, created_at
	`, id, in.Title, in.Description, p.ID, in.DueDate, in.Budget).Scan(&seq, &created)
	if err != nil {
		return market.Task{}, err
	}
	return market.Task{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		StudentID:   p.ID,
		DueDate:     in.DueDate,
		Budget:      in.Budget,
		Sequence:    seq,
		CreatedAt:   created,
	}, nil
}

const taskColumns = `id, title, coalesce(description,''), student_id, due_date, budget, coalesce(accepted_bid_id,''), seq, created_at`

func (s *Store) GetTask(ctx context.Context, id string) (market.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx,
		`select `+taskColumns+` from tasks where id=$1`, id))
}

func (s *Store) ListTasks(ctx context.Context, limit int, beforeSeq uint64) ([]market.Task, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+taskColumns+` from tasks
		where ($1 = 0 or seq < $1)
		order by seq desc
		limit $2
	`, beforeSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []market.Task
	var cursor uint64
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, task)
		cursor = task.Sequence
	}
	return res, cursor, rows.Err()
}

func (s *Store) ListTasksByStudent(ctx context.Context, studentID string) ([]market.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+taskColumns+` from tasks
		where student_id=$1
		order by seq desc
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []market.Task
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, task)
	}
	return res, rows.Err()
}

func (s *Store) SubmitBid(ctx context.Context, p auth.Principal, taskID string, amount int64, message string) (market.Bid, error) {
	if p.Role != auth.RoleTutor {
		return market.Bid{}, market.ErrUnauthorized
	}
	if amount < 0 {
		return market.Bid{}, market.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return market.Bid{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from tasks where id=$1`, taskID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return market.Bid{}, market.ErrNotFound
		}
		return market.Bid{}, err
	}

	id := ids.New()
	var created time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into bids(id, task_id, tutor_id, amount, message)
		values ($1,$2,$3,$4,$5)
		returning created_at
	`, id, taskID, p.ID, amount, message).Scan(&created); err != nil {
		return market.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return market.Bid{}, err
	}

	return market.Bid{
		ID:        id,
		TaskID:    taskID,
		TutorID:   p.ID,
		Amount:    amount,
		Message:   message,
		CreatedAt: created,
	}, nil
}

func (s *Store) ListBids(ctx context.Context, taskID string) ([]market.Bid, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `select 1 from tasks where id=$1`, taskID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, market.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, task_id, tutor_id, amount, coalesce(message,''), created_at
		from bids
		where task_id=$1
		order by created_at asc, id asc
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]market.Bid, 0)
	for rows.Next() {
		var b market.Bid
		if err := rows.Scan(&b.ID, &b.TaskID, &b.TutorID, &b.Amount, &b.Message, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// AcceptBid locks the task row, validates the transition and writes the
// accepted bid id and the payment in one transaction. The unique(task_id)
// constraint on payments backs up the at-most-one-payment invariant at the
// schema level.
func (s *Store) AcceptBid(ctx context.Context, p auth.Principal, taskID, bidID string) (market.Payment, error) {
	if p.Role != auth.RoleStudent {
		return market.Payment{}, market.ErrUnauthorized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return market.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var studentID string
	var acceptedBidID sql.NullString
	err = tx.QueryRowContext(ctx, `
		select student_id, accepted_bid_id from tasks where id=$1 for update
	`, taskID).Scan(&studentID, &acceptedBidID)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Payment{}, market.ErrNotFound
	}
	if err != nil {
		return market.Payment{}, err
	}
	if studentID != p.ID {
		return market.Payment{}, market.ErrUnauthorized
	}

	var bidTaskID string
	var amount int64
	err = tx.QueryRowContext(ctx, `
		select task_id, amount from bids where id=$1
	`, bidID).Scan(&bidTaskID, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Payment{}, market.ErrNotFound
	}
	if err != nil {
		return market.Payment{}, err
	}
	if bidTaskID != taskID {
		return market.Payment{}, market.ErrBidTaskMismatch
	}
	if acceptedBidID.Valid && acceptedBidID.String != "" {
		return market.Payment{}, market.ErrAlreadyAccepted
	}

	if _, err := tx.ExecContext(ctx, `
		update tasks set accepted_bid_id=$2 where id=$1
	`, taskID, bidID); err != nil {
		return market.Payment{}, err
	}

	paymentID := ids.New()
	var created time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into payments(id, task_id, amount)
		values ($1,$2,$3)
		returning created_at
	`, paymentID, taskID, amount).Scan(&created); err != nil {
		return market.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return market.Payment{}, err
	}

	return market.Payment{
		ID:        paymentID,
		TaskID:    taskID,
		Amount:    amount,
		CreatedAt: created,
	}, nil
}

const paymentColumns = `id, task_id, amount, paid, created_at, paid_at`

func (s *Store) GetPayment(ctx context.Context, id string) (market.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`select `+paymentColumns+` from payments where id=$1`, id))
}

func (s *Store) PaymentForTask(ctx context.Context, taskID string) (market.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`select `+paymentColumns+` from payments where task_id=$1`, taskID))
}

func (s *Store) MarkPaid(ctx context.Context, p auth.Principal, paymentID string) (market.Payment, error) {
	if p.Role != auth.RoleStudent {
		return market.Payment{}, market.ErrUnauthorized
	}
	return s.settle(ctx, paymentID, &p.ID)
}

func (s *Store) ConfirmPayment(ctx context.Context, paymentID string) (market.Payment, error) {
	return s.settle(ctx, paymentID, nil)
}

// settle performs the one-way paid transition. When owner is non-nil the
// associated task must belong to that student.
func (s *Store) settle(ctx context.Context, paymentID string, owner *string) (market.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return market.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var payment market.Payment
	var studentID string
	var paidAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		select p.id, p.task_id, p.amount, p.paid, p.created_at, p.paid_at, t.student_id
		from payments p
		join tasks t on t.id = p.task_id
		where p.id=$1
		for update of p
	`, paymentID).Scan(&payment.ID, &payment.TaskID, &payment.Amount, &payment.Paid, &payment.CreatedAt, &paidAt, &studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Payment{}, market.ErrNotFound
	}
	if err != nil {
		return market.Payment{}, err
	}
	if owner != nil && studentID != *owner {
		return market.Payment{}, market.ErrUnauthorized
	}
	if payment.Paid {
		return market.Payment{}, market.ErrAlreadyPaid
	}

	var settledAt time.Time
	if err := tx.QueryRowContext(ctx, `
		update payments set paid=true, paid_at=now() where id=$1
		returning paid_at
	`, paymentID).Scan(&settledAt); err != nil {
		return market.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return market.Payment{}, err
	}

	payment.Paid = true
	payment.PaidAt = &settledAt
	return payment, nil
}

func (s *Store) ListPayments(ctx context.Context, p auth.Principal) ([]market.Payment, error) {
	var rows *sql.Rows
	var err error
	switch p.Role {
	case auth.RoleStudent:
		rows, err = s.db.QueryContext(ctx, `
			select p.id, p.task_id, p.amount, p.paid, p.created_at, p.paid_at
			from payments p
			join tasks t on t.id = p.task_id
			where t.student_id=$1
			order by p.created_at asc, p.id asc
		`, p.ID)
	case auth.RoleTutor:
		rows, err = s.db.QueryContext(ctx, `
			select p.id, p.task_id, p.amount, p.paid, p.created_at, p.paid_at
			from payments p
			join tasks t on t.id = p.task_id
			join bids b on b.id = t.accepted_bid_id
			where b.tutor_id=$1
			order by p.created_at asc, p.id asc
		`, p.ID)
	default:
		return nil, market.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]market.Payment, 0)
	for rows.Next() {
		var payment market.Payment
		var paidAt sql.NullTime
		if err := rows.Scan(&payment.ID, &payment.TaskID, &payment.Amount, &payment.Paid, &payment.CreatedAt, &paidAt); err != nil {
			return nil, err
		}
		if paidAt.Valid {
			payment.PaidAt = &paidAt.Time
		}
		res = append(res, payment)
	}
	return res, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (market.Task, error) {
	var t market.Task
	var due sql.NullTime
	var budget sql.NullInt64
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.StudentID, &due, &budget, &t.AcceptedBidID, &t.Sequence, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Task{}, market.ErrNotFound
	}
	if err != nil {
		return market.Task{}, err
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	if budget.Valid {
		t.Budget = &budget.Int64
	}
	return t, nil
}

func scanTaskRows(rows *sql.Rows) (market.Task, error) {
	return scanTask(rows)
}

func scanPayment(row rowScanner) (market.Payment, error) {
	var p market.Payment
	var paidAt sql.NullTime
	err := row.Scan(&p.ID, &p.TaskID, &p.Amount, &p.Paid, &p.CreatedAt, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Payment{}, market.ErrNotFound
	}
	if err != nil {
		return market.Payment{}, err
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	return p, nil
}
