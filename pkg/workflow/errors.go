package workflow

import "errors"

var (
	// ErrExecutionFinished is returned when a job targets an execution that is already terminal.
	// Queue consumers treat it as a successful no-op.
	ErrExecutionFinished = errors.New("execution already finished")
	// ErrExecutionClaimed is returned when another worker already moved the execution to running.
	ErrExecutionClaimed = errors.New("execution already claimed")
	// ErrExecutionFailed wraps the error message of a run that ended in the failed state. The
	// execution record is already finalized when it is returned.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrNoSteps is the failure of a version without steps.
	ErrNoSteps = errors.New("No steps defined") //nolint:staticcheck // persisted verbatim as the execution error
	// ErrInvalidVersion is returned when a version cannot be published.
	ErrInvalidVersion = errors.New("invalid workflow version")
)
