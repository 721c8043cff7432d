package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tutorly.org/internal/auth"
	"tutorly.org/internal/market"
)

var (
	student = auth.Principal{ID: "student-1", Role: auth.RoleStudent}
	tutor   = auth.Principal{ID: "tutor-1", Role: auth.RoleTutor}
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestAcceptBidCommitsTaskAndPaymentTogether(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select student_id, accepted_bid_id from tasks").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "accepted_bid_id"}).
			AddRow("student-1", nil))
	mock.ExpectQuery("select task_id, amount from bids").
		WithArgs("bid-1").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "amount"}).
			AddRow("task-1", int64(400)))
	mock.ExpectExec("update tasks set accepted_bid_id").
		WithArgs("task-1", "bid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into payments").
		WithArgs(sqlmock.AnyArg(), "task-1", int64(400)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	payment, err := store.AcceptBid(context.Background(), student, "task-1", "bid-1")
	if err != nil {
		t.Fatalf("AcceptBid: %v", err)
	}
	if payment.TaskID != "task-1" || payment.Amount != 400 || payment.Paid {
		t.Fatalf("unexpected payment: %#v", payment)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptBidRollsBackWhenAlreadyAccepted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select student_id, accepted_bid_id from tasks").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "accepted_bid_id"}).
			AddRow("student-1", "bid-0"))
	mock.ExpectQuery("select task_id, amount from bids").
		WithArgs("bid-1").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "amount"}).
			AddRow("task-1", int64(400)))
	mock.ExpectRollback()

	_, err := store.AcceptBid(context.Background(), student, "task-1", "bid-1")
	if !errors.Is(err, market.ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptBidRejectsNonOwnerBeforeWriting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select student_id, accepted_bid_id from tasks").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "accepted_bid_id"}).
			AddRow("someone-else", nil))
	mock.ExpectRollback()

	_, err := store.AcceptBid(context.Background(), student, "task-1", "bid-1")
	if !errors.Is(err, market.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptBidRejectsTutorWithoutQuerying(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.AcceptBid(context.Background(), tutor, "task-1", "bid-1")
	if !errors.Is(err, market.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkPaidIsOneWay(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("from payments p").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "amount", "paid", "created_at", "paid_at", "student_id"}).
			AddRow("pay-1", "task-1", int64(400), true, time.Now(), time.Now(), "student-1"))
	mock.ExpectRollback()

	_, err := store.MarkPaid(context.Background(), student, "pay-1")
	if !errors.Is(err, market.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmPaymentSettles(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("from payments p").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "amount", "paid", "created_at", "paid_at", "student_id"}).
			AddRow("pay-1", "task-1", int64(400), false, now, nil, "student-1"))
	mock.ExpectQuery("update payments set paid=true").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"paid_at"}).AddRow(now))
	mock.ExpectCommit()

	payment, err := store.ConfirmPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if !payment.Paid || payment.PaidAt == nil {
		t.Fatalf("payment not settled: %#v", payment)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WithArgs("u-1", "Dana", "dana@example.com", "hash", "student", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CreateUser(context.Background(), &auth.User{
		ID:           "u-1",
		Name:         "Dana",
		Email:        "dana@example.com",
		PasswordHash: "hash",
		Role:         auth.RoleStudent,
		CreatedAt:    time.Now(),
	})
	if !errors.Is(err, auth.ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
