// Package services routes collaborator calls to the actor that owns an
// entity ID and provides standardized error types for that layer.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/pulse/pkg/entity"
	"github.com/dukex/pulse/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrEmptyID        = errors.New("entity ID cannot be empty")
	ErrInvalidLimit   = errors.New("invalid history limit")
	ErrInvalidStatus  = errors.New("invalid status")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyID) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrInvalidStatus) ||
		entity.IsInvalidInput(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotInitialized(err) || persistence.IsPhaseNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
