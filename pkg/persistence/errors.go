// Package persistence provides standardized error types for entity stores.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all stores and actors use.
var (
	// ErrNotInitialized indicates the entity row was never created.
	ErrNotInitialized = errors.New("entity not initialized")

	// ErrPhaseNotFound indicates a workflow has no phase with the given key.
	ErrPhaseNotFound = errors.New("phase not found")

	// ErrNotInitializable indicates the store could not be opened to create the entity.
	ErrNotInitializable = errors.New("entity cannot be initialized")

	// ErrStorageFailure indicates the embedded store rejected an operation.
	ErrStorageFailure = errors.New("storage failure")
)

// StorageError wraps a failed store operation with the entity it targeted.
type StorageError struct {
	Op       string // Operation being performed (e.g., "UpdateProgress", "Migrate")
	EntityID string // Entity ID if known
	Err      error  // Underlying error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s operation failed for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches ErrStorageFailure as well as anything in the wrapped chain.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure || errors.Is(e.Err, target)
}

// NewStorageError creates a new storage error with context.
func NewStorageError(op, entityID string, err error) *StorageError {
	return &StorageError{
		Op:       op,
		EntityID: entityID,
		Err:      err,
	}
}

// PhaseError wraps phase-related errors with additional context.
type PhaseError struct {
	Op         string // Operation being performed
	WorkflowID string // Workflow ID
	PhaseKey   string // Phase key
	Err        error  // Underlying error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s operation failed for phase %s in workflow %s: %v", e.Op, e.PhaseKey, e.WorkflowID, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func (e *PhaseError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotInitialized checks if an error indicates the entity was never initialized.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}

// IsPhaseNotFound checks if an error indicates an unknown phase key.
func IsPhaseNotFound(err error) bool {
	return errors.Is(err, ErrPhaseNotFound)
}

// IsNotInitializable checks if an error indicates the entity could not be created.
func IsNotInitializable(err error) bool {
	return errors.Is(err, ErrNotInitializable)
}

// IsStorageFailure checks if an error came from the embedded store.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}
