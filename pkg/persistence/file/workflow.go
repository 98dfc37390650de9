package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	docs jsonDir
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{docs: newJSONDir(root, "workflows")}
}

// List returns the workflows of ownerID (all when empty), newest first.
func (wr *WorkflowRepository) List(_ context.Context, ownerID string) ([]*models.Workflow, error) {
	wr.docs.mu.RLock()
	defer wr.docs.mu.RUnlock()

	workflows, err := readAll(wr.docs, func(workflow *models.Workflow) bool {
		return ownerID == "" || workflow.Owner == ownerID
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.docs.mu.RLock()
	defer wr.docs.mu.RUnlock()

	var workflow models.Workflow

	found, err := wr.docs.read(workflowID, &workflow)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "workflow", workflowID, err)
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "workflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.docs.mu.Lock()
	defer wr.docs.mu.Unlock()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return wr.docs.write(workflow.ID, workflow)
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.docs.mu.Lock()
	defer wr.docs.mu.Unlock()

	return wr.docs.remove(id)
}
