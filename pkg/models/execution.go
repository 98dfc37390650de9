package models

import "time"

// ExecutionStatus is the lifecycle state of an execution or execution step.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	case ExecutionStatusPending, ExecutionStatusRunning:
		return false
	default:
		return false
	}
}

// Execution is one concrete run of a workflow version against specific input.
type Execution struct {
	ID                string           `json:"id"`
	WorkflowID        string           `json:"workflowId"`
	WorkflowVersionID string           `json:"workflowVersionId"`
	TriggerID         string           `json:"triggerId,omitempty"`
	Status            ExecutionStatus  `json:"status"`
	Input             map[string]any   `json:"input"`
	Output            map[string]any   `json:"output,omitempty"`
	Error             string           `json:"error,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	StartedAt         *time.Time       `json:"startedAt,omitempty"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
	DurationMs        *int64           `json:"durationMs,omitempty"`
	RetryCount        int              `json:"retryCount"`
	CreatedAt         time.Time        `json:"createdAt"`
	Steps             []*ExecutionStep `json:"steps"`
	Logs              []*ExecutionLog  `json:"logs"`
}

// ExecutionStep records one attempted step of an execution.
type ExecutionStep struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"executionId"`
	StepID      string          `json:"stepId"`
	StepName    string          `json:"stepName"`
	StepType    StepType        `json:"stepType"`
	Status      ExecutionStatus `json:"status"`
	Input       map[string]any  `json:"input,omitempty"`
	Output      any             `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Attempts    int             `json:"attempts"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	DurationMs  *int64          `json:"durationMs,omitempty"`
}

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is a timestamped, leveled log line attached to an execution.
type ExecutionLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ExecutionUpdate carries a partial update of an execution; nil fields are left unchanged.
type ExecutionUpdate struct {
	Status      *ExecutionStatus
	Output      map[string]any
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	RetryCount  *int
}

// ExecutionStepUpdate carries a partial update of an execution step.
type ExecutionStepUpdate struct {
	Status      *ExecutionStatus
	Output      any
	Error       *string
	Metadata    map[string]any
	Attempts    *int
	CompletedAt *time.Time
	DurationMs  *int64
}

// ExecutionFinish is the terminal bookkeeping written when a run ends.
type ExecutionFinish struct {
	Status      ExecutionStatus
	Output      map[string]any
	Error       string
	CompletedAt time.Time
	DurationMs  int64
	RetryCount  int
}
