package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionNotFound indicates a workflow version was not found.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrNoActiveVersion indicates the workflow has no active version to run.
	ErrNoActiveVersion = errors.New("workflow has no active version")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionStepNotFound indicates an execution step record was not found.
	ErrExecutionStepNotFound = errors.New("execution step not found")

	// ErrTriggerNotFound indicates a trigger was not found.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrCredentialNotFound indicates a credential was not found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrExecutionTerminal indicates a status change was requested for a finished execution.
	ErrExecutionTerminal = errors.New("execution is in a terminal state")

	// ErrExecutionExists indicates an execution with the same ID is already stored.
	ErrExecutionExists = errors.New("execution already exists")

	// ErrInvalidID indicates an identifier that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid identifier")
)

// EntityError wraps a repository error with the operation and entity it concerns.
type EntityError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save", "Activate")
	Entity string // Entity kind, e.g. "workflow" or "execution"
	ID     string
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, id string, err error) *EntityError {
	return &EntityError{
		Op:     op,
		Entity: entity,
		ID:     id,
		Err:    err,
	}
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrNoActiveVersion) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrExecutionStepNotFound) ||
		errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrCredentialNotFound)
}
