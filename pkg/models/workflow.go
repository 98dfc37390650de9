// Package models defines the core domain models for workflow definitions and their executions.
package models

import (
	"time"

	"dario.cat/mergo"
)

const (
	DefaultRetryMaxAttempts = 3
	DefaultRetryBackoffMs   = 1000
)

// WorkflowSettings holds per-workflow execution settings. RetryMaxAttempts of zero means
// the default; set it to 1 to disable retries. RetryBackoffMs is a pointer so an explicit
// zero backoff survives WithDefaults.
type WorkflowSettings struct {
	TimeoutMs        int64  `json:"timeoutMs,omitempty"        validate:"gte=0"`
	RetryMaxAttempts int    `json:"retryMaxAttempts,omitempty" validate:"gte=0,lte=10"`
	RetryBackoffMs   *int64 `json:"retryBackoffMs,omitempty"   validate:"omitempty,gte=0,lte=60000"`
}

// DefaultWorkflowSettings returns the settings applied when a workflow leaves a field unset.
func DefaultWorkflowSettings() WorkflowSettings {
	return WorkflowSettings{
		RetryMaxAttempts: DefaultRetryMaxAttempts,
		RetryBackoffMs:   Ptr(int64(DefaultRetryBackoffMs)),
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Backoff returns the configured retry backoff.
func (s WorkflowSettings) Backoff() time.Duration {
	if s.RetryBackoffMs == nil {
		return 0
	}

	return time.Duration(*s.RetryBackoffMs) * time.Millisecond
}

// WithDefaults returns a copy of the settings with zero fields filled from DefaultWorkflowSettings.
func (s WorkflowSettings) WithDefaults() WorkflowSettings {
	merged := s

	err := mergo.Merge(&merged, DefaultWorkflowSettings(), mergo.WithoutDereference)
	if err != nil {
		return DefaultWorkflowSettings()
	}

	return merged
}

// Workflow is the stable identity of an automation; its steps live in WorkflowVersion.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"                  validate:"required,min=3"`
	Description string           `json:"description"`
	Owner       string           `json:"owner"                 validate:"required"`
	Settings    WorkflowSettings `json:"settings"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// WorkflowVersion is an immutable, published definition of a workflow.
// At most one version per workflow is active.
type WorkflowVersion struct {
	ID          string            `json:"id"`
	WorkflowID  string            `json:"workflowId"            validate:"required"`
	Version     int               `json:"version"`
	Steps       []*StepDefinition `json:"steps"                 validate:"dive"`
	IsActive    bool              `json:"isActive"`
	CreatedAt   time.Time         `json:"createdAt"`
	PublishedAt *time.Time        `json:"publishedAt,omitempty"`
}

// OrderedSteps returns the version's steps sorted by position. Steps sharing a position keep
// their declaration order.
func (v *WorkflowVersion) OrderedSteps() []*StepDefinition {
	return SortSteps(v.Steps)
}
