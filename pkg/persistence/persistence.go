// Package persistence provides the storage abstraction for workflows, versions, executions,
// triggers and credentials.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	VersionRepository() VersionRepository
	ExecutionRepository() ExecutionRepository
	TriggerRepository() TriggerRepository
	CredentialRepository() CredentialRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow identities.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// List returns workflows newest first. An empty ownerID lists every workflow.
	List(ctx context.Context, ownerID string) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// VersionRepository stores immutable workflow versions.
type VersionRepository interface {
	// CreateVersion stores version as inactive. A zero Version number is replaced by the
	// next number for the workflow, assigned atomically.
	CreateVersion(ctx context.Context, version *models.WorkflowVersion) error
	GetVersion(ctx context.Context, id string) (*models.WorkflowVersion, error)
	// ListVersions returns the workflow's versions, highest number first.
	ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error)
	GetActiveVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error)
	// ActivateVersion deactivates every version of the workflow and activates versionID as
	// one atomic write.
	ActivateVersion(ctx context.Context, workflowID, versionID string, publishedAt time.Time) error
	NextVersionNumber(ctx context.Context, workflowID string) (int, error)
}

// ExecutionRepository stores executions with their steps and logs.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	// GetExecution returns the execution with its steps and logs.
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error)
	UpdateExecution(ctx context.Context, id string, update models.ExecutionUpdate) error
	// ClaimExecution moves a pending execution to running. It reports false when the
	// execution was not pending.
	ClaimExecution(ctx context.Context, id string, startedAt time.Time) (bool, error)
	// FinishExecution moves a running execution to a terminal status. It reports false when
	// the execution was no longer running.
	FinishExecution(ctx context.Context, id string, finish models.ExecutionFinish) (bool, error)
	// CancelExecution moves a pending or running execution to cancelled. It reports false
	// when the execution was already terminal.
	CancelExecution(ctx context.Context, id string, at time.Time) (bool, error)

	CreateExecutionStep(ctx context.Context, step *models.ExecutionStep) error
	UpdateExecutionStep(ctx context.Context, id string, update models.ExecutionStepUpdate) error
	AddLog(ctx context.Context, entry *models.ExecutionLog) error
}

// TriggerRepository stores trigger bindings.
type TriggerRepository interface {
	SaveTrigger(ctx context.Context, trigger *models.Trigger) error
	GetTrigger(ctx context.Context, id string) (*models.Trigger, error)
	// ListTriggers returns triggers of triggerType, or all triggers when it is empty.
	ListTriggers(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error)
}

// CredentialRepository stores encrypted credentials.
type CredentialRepository interface {
	SaveCredential(ctx context.Context, credential *models.Credential) error
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
}
