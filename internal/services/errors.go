package services

import (
	"errors"
	"fmt"
	"time"
)

// Error categories, matchable with errors.Is
var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")
	ErrNotFound     = errors.New("not found")
)

// ValidationError is a malformed or missing field. Never retried.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvalidStateError is an operation attempted from a state that forbids it
type InvalidStateError struct {
	Entity   string `json:"entity"`
	ID       uint   `json:"id"`
	Current  string `json:"current"`
	Expected string `json:"expected"`
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d is %s, expected %s", e.Entity, e.ID, e.Current, e.Expected)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ExpiredError is an entity whose time-to-live has elapsed
type ExpiredError struct {
	Entity    string    `json:"entity"`
	ID        uint      `json:"id"`
	ExpiredAt time.Time `json:"expired_at"`
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s %d expired at %s", e.Entity, e.ID, e.ExpiredAt.Format(time.RFC3339))
}

func (e *ExpiredError) Is(target error) bool {
	return target == ErrExpired
}
