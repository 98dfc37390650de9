// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"               validate:"required,min=3"`
	Description string                  `json:"description"`
	Owner       string                  `json:"owner"              validate:"required"`
	Settings    models.WorkflowSettings `json:"settings"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
}

// PublishVersionRequest carries the steps of a new workflow version.
type PublishVersionRequest struct {
	Steps []*models.StepDefinition `json:"steps" validate:"required,min=1"`
}

// ExecuteRequest starts a manual run.
type ExecuteRequest struct {
	Input map[string]any `json:"input"`
}

// AcceptedResponse is returned when a run was queued but has not started yet.
type AcceptedResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

// CreateTriggerRequest binds an event source to a workflow.
type CreateTriggerRequest struct {
	Type        models.TriggerType `json:"type"                  validate:"required,oneof=manual webhook schedule"`
	Schedule    string             `json:"schedule,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
	InputSchema map[string]any     `json:"inputSchema,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// CreateCredentialRequest carries secret values to seal in the vault.
type CreateCredentialRequest struct {
	Name  string            `json:"name"  validate:"required"`
	Type  string            `json:"type"  validate:"required"`
	Owner string            `json:"owner" validate:"required"`
	Data  map[string]string `json:"data"  validate:"required,min=1"`
}

// CredentialResponse is a credential without its sealed data.
type CredentialResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewCredentialResponse(credential *models.Credential) CredentialResponse {
	return CredentialResponse{
		ID:        credential.ID,
		Name:      credential.Name,
		Type:      credential.Type,
		OwnerID:   credential.OwnerID,
		CreatedAt: credential.CreatedAt,
		UpdatedAt: credential.UpdatedAt,
	}
}

// ExecutionResponse is the public shape of an execution.
type ExecutionResponse struct {
	ID          string                  `json:"id"`
	WorkflowID  string                  `json:"workflowId"`
	Status      models.ExecutionStatus  `json:"status"`
	Input       map[string]any          `json:"input"`
	Output      map[string]any          `json:"output"`
	Error       *string                 `json:"error"`
	StartedAt   *time.Time              `json:"startedAt"`
	CompletedAt *time.Time              `json:"completedAt"`
	DurationMs  *int64                  `json:"durationMs"`
	RetryCount  int                     `json:"retryCount"`
	Steps       []*models.ExecutionStep `json:"steps"`
	Logs        []*models.ExecutionLog  `json:"logs"`
}

func NewExecutionResponse(execution *models.Execution) ExecutionResponse {
	resp := ExecutionResponse{
		ID:          execution.ID,
		WorkflowID:  execution.WorkflowID,
		Status:      execution.Status,
		Input:       execution.Input,
		Output:      execution.Output,
		StartedAt:   execution.StartedAt,
		CompletedAt: execution.CompletedAt,
		DurationMs:  execution.DurationMs,
		RetryCount:  execution.RetryCount,
		Steps:       execution.Steps,
		Logs:        execution.Logs,
	}

	if execution.Error != "" {
		resp.Error = &execution.Error
	}

	if resp.Steps == nil {
		resp.Steps = []*models.ExecutionStep{}
	}

	if resp.Logs == nil {
		resp.Logs = []*models.ExecutionLog{}
	}

	return resp
}
