package auth

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndLogin(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	ctx := context.Background()

	p, err := svc.Register(ctx, "Dana@Example.com", "hunter22", "Dana", RoleStudent)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.ID == "" || p.Role != RoleStudent || p.Name != "Dana" {
		t.Fatalf("unexpected principal: %#v", p)
	}

	got, err := svc.Login(ctx, "dana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got != p {
		t.Fatalf("login principal mismatch: %#v != %#v", got, p)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@example.com", "pw123456", "A", RoleTutor); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, "A@example.com", "pw123456", "A2", RoleStudent)
	if !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestRegisterRejectsInvalidRole(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	_, err := svc.Register(context.Background(), "a@example.com", "pw123456", "A", Role("admin"))
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@example.com", "pw123456", "A", RoleTutor); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "a@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "pw123456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	ctx := context.Background()

	p, err := svc.Register(ctx, "a@example.com", "pw123456", "A", RoleTutor)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := svc.Lookup(ctx, p.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != p {
		t.Fatalf("lookup mismatch: %#v != %#v", got, p)
	}
	if _, err := svc.Lookup(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
