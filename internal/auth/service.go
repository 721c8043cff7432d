package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tutorly.org/internal/ids"
)

// Service is the identity provider boundary. It owns registration and
// credential checks; the marketplace only ever sees the resulting Principal.
type Service struct {
	store UserStore
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the identity provider on top of a user store.
func NewService(store UserStore, opts ...ServiceOption) *Service {
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Register creates a new account and returns its principal.
// The role is fixed at registration and never changes afterwards.
func (s *Service) Register(ctx context.Context, email, password, name string, role Role) (Principal, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return Principal{}, fmt.Errorf("%w: email and name are required", ErrInvalidInput)
	}
	if !role.Valid() {
		return Principal{}, ErrInvalidRole
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user := &User{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Principal{}, err
	}
	return user.Principal(), nil
}

// Login verifies credentials and returns the account's principal.
// Lookup and password failures collapse into ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Principal{}, ErrInvalidCredentials
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return user.Principal(), nil
}

// Lookup resolves a user id into its principal.
func (s *Service) Lookup(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return user.Principal(), nil
}
