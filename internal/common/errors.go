// Package common defines shared constants and sentinel errors used across
// the directory, auth and transport layers. Callers should use errors.Is to
// match these values; producers wrap them with fmt.Errorf("...: %w", err).
package common

import "errors"

var (
	// Input errors. Always user-correctable.
	ErrValidation = errors.New("validation error")

	// Directory errors.
	ErrorNotFound = errors.New("not found")
	ErrConflict   = errors.New("username or email already exists")

	// Backend unreachable or returned malformed data. Not retried here.
	ErrStorage = errors.New("storage error")

	// Credential errors.
	ErrUnauthorized    = errors.New("invalid credentials")
	ErrAccountDisabled = errors.New("account is disabled")
	ErrForbidden       = errors.New("insufficient permissions")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
