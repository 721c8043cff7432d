package auth

import (
	"strings"
	"time"
)

// Role is the closed set of marketplace roles. It never changes after registration.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// ParseRole normalises and validates a raw role string.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", ErrInvalidRole
	}
	return role, nil
}

// Valid reports whether the role is one of the known marketplace roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTutor:
		return true
	default:
		return false
	}
}

// User is an account managed by the identity provider. Everything past
// registration treats users as read-only.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated actor handed to the marketplace services.
// It carries everything the services need for role and ownership checks.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Principal projects the user into its service-facing identity.
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Name: u.Name, Role: u.Role}
}
