package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input that is malformed or violates a policy.
	// Concrete failures are *ValidationError values that match it.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a write that collides with existing data.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials marks a failed login.
	ErrInvalidCredentials = errors.New("incorrect username or password")
	// ErrUnauthenticated marks a request without a usable access token.
	ErrUnauthenticated = errors.New("could not validate credentials")
	// ErrNotFound marks a record that is absent or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrReceiptsDisabled is returned when no receipt storage is configured.
	ErrReceiptsDisabled = errors.New("receipt storage is not configured")
)

// ValidationError describes why a single input was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
