package events

// Lifecycle names an execution progress event.
type Lifecycle string

const (
	Started       Lifecycle = "started"
	StepStarted   Lifecycle = "step_started"
	StepCompleted Lifecycle = "step_completed"
	StepFailed    Lifecycle = "step_failed"
	Completed     Lifecycle = "completed"
	Failed        Lifecycle = "failed"
	Cancelled     Lifecycle = "cancelled"
)

// PayloadTimestamp and PayloadExecutionID are present in every lifecycle payload.
const (
	PayloadTimestamp   = "timestamp"
	PayloadExecutionID = "executionId"
)

// IsTerminal reports whether no further events follow for the execution.
func (l Lifecycle) IsTerminal() bool {
	return l == Completed || l == Failed || l == Cancelled
}
