package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// Execution reads executions and applies external cancellation.
type Execution struct {
	persistence persistence.Persistence
	sink        broadcast.Sink
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewExecution(persistence persistence.Persistence, sink broadcast.Sink, m *metrics.Metrics, logger *slog.Logger) *Execution {
	if sink == nil {
		sink = broadcast.Discard{}
	}

	return &Execution{
		persistence: persistence,
		sink:        sink,
		metrics:     m,
		logger:      logger.With("module", "execution_service"),
	}
}

func (s *Execution) Get(ctx context.Context, id string) (*models.Execution, error) {
	return s.persistence.ExecutionRepository().GetExecution(ctx, id)
}

// List returns the workflow's executions.
func (s *Execution) List(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	_, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	executions, err := s.persistence.ExecutionRepository().ListExecutions(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Cancel moves a pending or running execution to cancelled. A running execution stops at its
// next step boundary.
func (s *Execution) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	repo := s.persistence.ExecutionRepository()

	execution, err := repo.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	ok, err := repo.CancelExecution(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	if !ok {
		return nil, &ServiceError{
			Op:      "Cancel",
			Code:    "NOT_CANCELLABLE",
			Message: fmt.Sprintf("execution %s is %s", id, execution.Status),
			Err:     ErrExecutionNotCancellable,
		}
	}

	err = repo.AddLog(ctx, &models.ExecutionLog{
		ExecutionID: id,
		Level:       models.LogLevelWarn,
		Message:     "Execution cancelled",
		Timestamp:   now,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record cancellation log", "execution_id", id, "error", err)
	}

	payload := broadcast.Payload(id, map[string]any{"workflowId": execution.WorkflowID})

	err = s.sink.Emit(ctx, id, events.Cancelled, payload)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to broadcast cancellation", "execution_id", id, "error", err)
	}

	s.metrics.ExecutionFinished(string(models.ExecutionStatusCancelled))
	s.logger.InfoContext(ctx, "execution cancelled", "execution_id", id, "workflow_id", execution.WorkflowID)

	return repo.GetExecution(ctx, id)
}
