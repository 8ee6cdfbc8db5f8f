package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidTransition is returned when a status change is not allowed,
	// most importantly any write to a completed or failed task.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrAlreadyClaimed is returned by a claim on a task that is no longer
	// pending. It matches ErrInvalidTransition.
	ErrAlreadyClaimed = fmt.Errorf("%w: task is not pending", ErrInvalidTransition)

	// ErrInvalidProgress is returned for progress values outside 0..100 or
	// progress written outside the processing state.
	ErrInvalidProgress = errors.New("invalid task progress")

	// ErrUnsupportedTaskType is returned for task types no handler exists for.
	ErrUnsupportedTaskType = errors.New("unsupported task type")

	// ErrInvalidTaskParams is returned when task parameters fail validation.
	ErrInvalidTaskParams = errors.New("invalid task parameters")

	// ErrForbidden is returned when a user accesses a task they do not own.
	ErrForbidden = errors.New("forbidden")

	// ErrQuotaExceeded is matched by every QuotaExceededError.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// ValidationError represents a validation failure on a specific field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// QuotaExceededError describes which counter blocked the work and by how much.
type QuotaExceededError struct {
	Counter   QuotaCounter
	Used      int64
	Limit     int64
	Remaining int64
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded (%d/%d used, %d remaining)",
		e.Counter, e.Used, e.Limit, e.Remaining)
}

// Is makes errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
