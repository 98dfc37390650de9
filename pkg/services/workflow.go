package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

type Workflow struct {
	persistence persistence.Persistence
	publishing  *workflow.PublishingService
	dispatcher  *dispatch.Dispatcher
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(
	persistence persistence.Persistence,
	publishing *workflow.PublishingService,
	dispatcher *dispatch.Dispatcher,
) *Workflow {
	return &Workflow{
		persistence: persistence,
		publishing:  publishing,
		dispatcher:  dispatcher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns workflows newest first, optionally restricted to one owner.
func (w *Workflow) List(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().List(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create adds a new workflow to the repository.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	workflow.Owner = strings.TrimSpace(workflow.Owner)
	if workflow.Owner == "" {
		return nil, ErrEmptyOwnerID
	}

	err := w.validate.Struct(workflow)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	_, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Publish stores steps as the workflow's new active version.
func (w *Workflow) Publish(ctx context.Context, workflowID string, steps []*models.StepDefinition) (*models.WorkflowVersion, error) {
	return w.publishing.PublishVersion(ctx, workflowID, steps)
}

// Rollback makes an earlier version active again.
func (w *Workflow) Rollback(ctx context.Context, workflowID, versionID string) (*models.WorkflowVersion, error) {
	return w.publishing.ActivateVersion(ctx, workflowID, versionID)
}

// Versions lists the workflow's versions, newest first.
func (w *Workflow) Versions(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	_, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return w.persistence.VersionRepository().ListVersions(ctx, workflowID)
}

// Execute queues a manual run of the workflow's active version and returns the id the
// execution will have. A workflow without an active version is rejected here rather than
// dropped by the dispatcher.
func (w *Workflow) Execute(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	_, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	_, err = w.persistence.VersionRepository().GetActiveVersion(ctx, workflowID)
	if err != nil {
		return "", err
	}

	dispatchID, err := w.dispatcher.Dispatch(ctx, dispatch.Request{
		WorkflowID: workflowID,
		Input:      input,
		Metadata:   map[string]any{"source": string(models.TriggerTypeManual)},
	})
	if err != nil {
		return "", err
	}

	return dispatch.ExecutionIDFor(dispatchID), nil
}
