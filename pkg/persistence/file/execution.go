package file

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository keeps each execution, including its steps and logs, in a single
// document under executions/.
type ExecutionRepository struct {
	docs jsonDir

	// stepOwners maps an execution step ID to its execution ID.
	stepOwners sync.Map
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{docs: newJSONDir(root, "executions")}
}

func (er *ExecutionRepository) CreateExecution(_ context.Context, execution *models.Execution) error {
	er.docs.mu.Lock()
	defer er.docs.mu.Unlock()

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	if execution.Status == "" {
		execution.Status = models.ExecutionStatusPending
	}

	if execution.Input == nil {
		execution.Input = map[string]any{}
	}

	var existing models.Execution

	found, err := er.docs.read(execution.ID, &existing)
	if err != nil {
		return persistence.NewEntityError("CreateExecution", "execution", execution.ID, err)
	}

	if found {
		return persistence.NewEntityError("CreateExecution", "execution", execution.ID, persistence.ErrExecutionExists)
	}

	return er.docs.write(execution.ID, execution)
}

func (er *ExecutionRepository) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	er.docs.mu.RLock()
	defer er.docs.mu.RUnlock()

	return er.load("GetExecution", id)
}

func (er *ExecutionRepository) ListExecutions(_ context.Context, workflowID string) ([]*models.Execution, error) {
	er.docs.mu.RLock()
	defer er.docs.mu.RUnlock()

	executions, err := readAll(er.docs, func(execution *models.Execution) bool {
		return workflowID == "" || execution.WorkflowID == workflowID
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) UpdateExecution(_ context.Context, id string, update models.ExecutionUpdate) error {
	return er.mutate("UpdateExecution", id, func(execution *models.Execution) (bool, error) {
		if update.Status != nil && *update.Status != execution.Status && execution.Status.IsTerminal() {
			return false, persistence.ErrExecutionTerminal
		}

		applyExecutionUpdate(execution, update)

		return true, nil
	})
}

func (er *ExecutionRepository) ClaimExecution(_ context.Context, id string, startedAt time.Time) (bool, error) {
	claimed := false

	err := er.mutate("ClaimExecution", id, func(execution *models.Execution) (bool, error) {
		if execution.Status != models.ExecutionStatusPending {
			return false, nil
		}

		at := startedAt.UTC()
		execution.Status = models.ExecutionStatusRunning
		execution.StartedAt = &at
		claimed = true

		return true, nil
	})

	return claimed, err
}

func (er *ExecutionRepository) FinishExecution(_ context.Context, id string, finish models.ExecutionFinish) (bool, error) {
	finished := false

	err := er.mutate("FinishExecution", id, func(execution *models.Execution) (bool, error) {
		if execution.Status != models.ExecutionStatusRunning {
			return false, nil
		}

		completedAt := finish.CompletedAt.UTC()
		duration := finish.DurationMs

		execution.Status = finish.Status
		execution.Output = finish.Output
		execution.Error = finish.Error
		execution.CompletedAt = &completedAt
		execution.DurationMs = &duration
		execution.RetryCount = finish.RetryCount
		finished = true

		return true, nil
	})

	return finished, err
}

func (er *ExecutionRepository) CancelExecution(_ context.Context, id string, at time.Time) (bool, error) {
	cancelled := false

	err := er.mutate("CancelExecution", id, func(execution *models.Execution) (bool, error) {
		if execution.Status.IsTerminal() {
			return false, nil
		}

		completedAt := at.UTC()
		execution.Status = models.ExecutionStatusCancelled
		execution.CompletedAt = &completedAt

		// A pending execution never started, so its duration runs from creation.
		since := execution.CreatedAt
		if execution.StartedAt != nil {
			since = *execution.StartedAt
		}

		duration := max(completedAt.Sub(since).Milliseconds(), 0)
		execution.DurationMs = &duration

		cancelled = true

		return true, nil
	})

	return cancelled, err
}

func (er *ExecutionRepository) CreateExecutionStep(_ context.Context, step *models.ExecutionStep) error {
	if step.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution step ID: %w", err)
		}

		step.ID = id.String()
	}

	err := er.mutate("CreateExecutionStep", step.ExecutionID, func(execution *models.Execution) (bool, error) {
		execution.Steps = append(execution.Steps, step)

		return true, nil
	})
	if err != nil {
		return err
	}

	er.stepOwners.Store(step.ID, step.ExecutionID)

	return nil
}

func (er *ExecutionRepository) UpdateExecutionStep(_ context.Context, id string, update models.ExecutionStepUpdate) error {
	executionID, err := er.stepOwner(id)
	if err != nil {
		return err
	}

	return er.mutate("UpdateExecutionStep", executionID, func(execution *models.Execution) (bool, error) {
		for _, step := range execution.Steps {
			if step.ID == id {
				applyStepUpdate(step, update)

				return true, nil
			}
		}

		return false, persistence.ErrExecutionStepNotFound
	})
}

func (er *ExecutionRepository) AddLog(_ context.Context, entry *models.ExecutionLog) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	return er.mutate("AddLog", entry.ExecutionID, func(execution *models.Execution) (bool, error) {
		execution.Logs = append(execution.Logs, entry)

		return true, nil
	})
}

func (er *ExecutionRepository) load(op, id string) (*models.Execution, error) {
	var execution models.Execution

	found, err := er.docs.read(id, &execution)
	if err != nil {
		return nil, persistence.NewEntityError(op, "execution", id, err)
	}

	if !found {
		return nil, persistence.NewEntityError(op, "execution", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

// mutate loads, changes and rewrites one execution under the write lock. fn reports whether
// the document changed.
func (er *ExecutionRepository) mutate(op, id string, fn func(*models.Execution) (bool, error)) error {
	er.docs.mu.Lock()
	defer er.docs.mu.Unlock()

	execution, err := er.load(op, id)
	if err != nil {
		return err
	}

	changed, err := fn(execution)
	if err != nil {
		return persistence.NewEntityError(op, "execution", id, err)
	}

	if !changed {
		return nil
	}

	return er.docs.write(id, execution)
}

// stepOwner finds the execution holding step id, scanning the documents when the step was
// created by another process.
func (er *ExecutionRepository) stepOwner(id string) (string, error) {
	if owner, ok := er.stepOwners.Load(id); ok {
		return owner.(string), nil
	}

	er.docs.mu.RLock()
	defer er.docs.mu.RUnlock()

	executions, err := readAll[models.Execution](er.docs, nil)
	if err != nil {
		return "", err
	}

	for _, execution := range executions {
		for _, step := range execution.Steps {
			er.stepOwners.Store(step.ID, execution.ID)

			if step.ID == id {
				return execution.ID, nil
			}
		}
	}

	return "", persistence.NewEntityError("UpdateExecutionStep", "execution step", id, persistence.ErrExecutionStepNotFound)
}

func applyExecutionUpdate(execution *models.Execution, update models.ExecutionUpdate) {
	if update.Status != nil {
		execution.Status = *update.Status
	}

	if update.Output != nil {
		execution.Output = update.Output
	}

	if update.Error != nil {
		execution.Error = *update.Error
	}

	if update.StartedAt != nil {
		execution.StartedAt = update.StartedAt
	}

	if update.CompletedAt != nil {
		execution.CompletedAt = update.CompletedAt
	}

	if update.DurationMs != nil {
		execution.DurationMs = update.DurationMs
	}

	if update.RetryCount != nil {
		execution.RetryCount = *update.RetryCount
	}
}

func applyStepUpdate(step *models.ExecutionStep, update models.ExecutionStepUpdate) {
	if update.Status != nil {
		step.Status = *update.Status
	}

	if update.Output != nil {
		step.Output = update.Output
	}

	if update.Error != nil {
		step.Error = *update.Error
	}

	if update.Metadata != nil {
		step.Metadata = update.Metadata
	}

	if update.Attempts != nil {
		step.Attempts = *update.Attempts
	}

	if update.CompletedAt != nil {
		step.CompletedAt = update.CompletedAt
	}

	if update.DurationMs != nil {
		step.DurationMs = update.DurationMs
	}
}
