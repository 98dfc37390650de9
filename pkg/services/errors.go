// Package services implements the API use cases on top of persistence, publishing and dispatch.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrEmptyOwnerID    = errors.New("owner ID cannot be empty")
	ErrCredentialEmpty = errors.New("credential data cannot be empty")

	// Business Logic Conflicts (409 Conflict).
	ErrExecutionNotCancellable = errors.New("execution is not pending or running")
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

// validationErrors map to HTTP 400.
var validationErrors = []error{
	ErrInvalidRequest,
	ErrEmptyOwnerID,
	ErrCredentialEmpty,
	workflow.ErrInvalidVersion,
	models.ErrInvalidSchedule,
	dispatch.ErrInvalidInput,
}

// conflictErrors map to HTTP 409: the request is valid but the resource is in the wrong state.
var conflictErrors = []error{
	ErrExecutionNotCancellable,
	dispatch.ErrNoActiveVersion,
	dispatch.ErrTriggerDisabled,
	dispatch.ErrTriggerType,
}

func IsValidationError(err error) bool {
	return matchesAny(err, validationErrors)
}

func IsConflictError(err error) bool {
	return matchesAny(err, conflictErrors)
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
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
