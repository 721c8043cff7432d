package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrEmailInUse         = errors.New("auth: email already in use")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidRole        = errors.New("auth: invalid role")
	ErrInvalidInput       = errors.New("auth: invalid input")
)
