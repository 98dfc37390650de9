package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = pq.ErrorCode("23505")

var (
	executionColumns = []string{
		"id", "workflow_id", "workflow_version_id", "trigger_id", "status", "input", "output", "error",
		"metadata", "started_at", "completed_at", "duration_ms", "retry_count", "created_at",
	}
	stepColumns = []string{
		"id", "execution_id", "step_id", "step_name", "step_type", "status", "input", "output", "error",
		"metadata", "attempts", "started_at", "completed_at", "duration_ms",
	}
	logColumns = []string{"id", "execution_id", "level", "message", "metadata", "timestamp"}
)

// ExecutionRepository stores executions, their steps and their logs.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
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

	inputJSON, err := toJSONB(execution.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	outputJSON, err := toJSONB(execution.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	metadataJSON, err := toJSONB(execution.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	statement, args, err := psql.Insert("executions").
		Columns(executionColumns...).
		Values(execution.ID, execution.WorkflowID, execution.WorkflowVersionID, nullString(execution.TriggerID),
			execution.Status, inputJSON, outputJSON, execution.Error, metadataJSON,
			execution.StartedAt, execution.CompletedAt, execution.DurationMs, execution.RetryCount,
			execution.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, statement, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			err = persistence.ErrExecutionExists
		}

		return persistence.NewEntityError("CreateExecution", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	statement, args, err := psql.Select(executionColumns...).From("executions").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	execution, err := scanExecution(r.db.QueryRowContext(ctx, statement, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetExecution", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewEntityError("GetExecution", "execution", id, err)
	}

	execution.Steps, err = r.loadSteps(ctx, id)
	if err != nil {
		return nil, persistence.NewEntityError("GetExecution", "execution", id, err)
	}

	execution.Logs, err = r.loadLogs(ctx, id)
	if err != nil {
		return nil, persistence.NewEntityError("GetExecution", "execution", id, err)
	}

	return execution, nil
}

// ListExecutions returns executions without steps or logs, newest first.
func (r *ExecutionRepository) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	query := psql.Select(executionColumns...).From("executions").OrderBy("created_at DESC")
	if workflowID != "" {
		query = query.Where(squirrel.Eq{"workflow_id": workflowID})
	}

	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

// UpdateExecution applies a partial update. Status changes are refused once the execution
// is terminal.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, id string, update models.ExecutionUpdate) error {
	values := map[string]any{}

	if update.Status != nil {
		values["status"] = *update.Status
	}

	if update.Output != nil {
		outputJSON, err := toJSONB(update.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}

		values["output"] = outputJSON
	}

	if update.Error != nil {
		values["error"] = *update.Error
	}

	if update.StartedAt != nil {
		values["started_at"] = update.StartedAt.UTC()
	}

	if update.CompletedAt != nil {
		values["completed_at"] = update.CompletedAt.UTC()
	}

	if update.DurationMs != nil {
		values["duration_ms"] = *update.DurationMs
	}

	if update.RetryCount != nil {
		values["retry_count"] = *update.RetryCount
	}

	if len(values) == 0 {
		return nil
	}

	where := squirrel.And{squirrel.Eq{"id": id}}
	if update.Status != nil {
		where = append(where, squirrel.Or{
			squirrel.Eq{"status": []models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning}},
			squirrel.Eq{"status": *update.Status},
		})
	}

	affected, err := r.exec(ctx, psql.Update("executions").SetMap(values).Where(where))
	if err != nil {
		return persistence.NewEntityError("UpdateExecution", "execution", id, err)
	}

	if affected == 0 {
		return r.explainMiss(ctx, "UpdateExecution", id)
	}

	return nil
}

func (r *ExecutionRepository) ClaimExecution(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	affected, err := r.exec(ctx, psql.Update("executions").
		Set("status", models.ExecutionStatusRunning).
		Set("started_at", startedAt.UTC()).
		Where(squirrel.Eq{"id": id, "status": models.ExecutionStatusPending}))
	if err != nil {
		return false, persistence.NewEntityError("ClaimExecution", "execution", id, err)
	}

	return affected == 1, nil
}

func (r *ExecutionRepository) FinishExecution(ctx context.Context, id string, finish models.ExecutionFinish) (bool, error) {
	outputJSON, err := toJSONB(finish.Output)
	if err != nil {
		return false, fmt.Errorf("failed to marshal output: %w", err)
	}

	affected, err := r.exec(ctx, psql.Update("executions").
		Set("status", finish.Status).
		Set("output", outputJSON).
		Set("error", finish.Error).
		Set("completed_at", finish.CompletedAt.UTC()).
		Set("duration_ms", finish.DurationMs).
		Set("retry_count", finish.RetryCount).
		Where(squirrel.Eq{"id": id, "status": models.ExecutionStatusRunning}))
	if err != nil {
		return false, persistence.NewEntityError("FinishExecution", "execution", id, err)
	}

	return affected == 1, nil
}

func (r *ExecutionRepository) CancelExecution(ctx context.Context, id string, at time.Time) (bool, error) {
	affected, err := r.exec(ctx, psql.Update("executions").
		Set("status", models.ExecutionStatusCancelled).
		Set("completed_at", at.UTC()).
		Set("duration_ms", squirrel.Expr(
			"GREATEST((EXTRACT(EPOCH FROM (?::timestamptz - COALESCE(started_at, created_at))) * 1000)::BIGINT, 0)",
			at.UTC())).
		Where(squirrel.Eq{
			"id":     id,
			"status": []models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning},
		}))
	if err != nil {
		return false, persistence.NewEntityError("CancelExecution", "execution", id, err)
	}

	return affected == 1, nil
}

func (r *ExecutionRepository) CreateExecutionStep(ctx context.Context, step *models.ExecutionStep) error {
	if step.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution step ID: %w", err)
		}

		step.ID = id.String()
	}

	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}

	inputJSON, err := toJSONB(step.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	outputJSON, err := toJSONB(step.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	metadataJSON, err := toJSONB(step.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal step metadata: %w", err)
	}

	statement, args, err := psql.Insert("execution_steps").
		Columns(stepColumns...).
		Values(step.ID, step.ExecutionID, step.StepID, step.StepName, step.StepType, step.Status,
			inputJSON, outputJSON, step.Error, metadataJSON, step.Attempts, step.StartedAt,
			step.CompletedAt, step.DurationMs).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, statement, args...); err != nil {
		return persistence.NewEntityError("CreateExecutionStep", "execution", step.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionRepository) UpdateExecutionStep(ctx context.Context, id string, update models.ExecutionStepUpdate) error {
	values := map[string]any{}

	if update.Status != nil {
		values["status"] = *update.Status
	}

	if update.Output != nil {
		outputJSON, err := toJSONB(update.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal step output: %w", err)
		}

		values["output"] = outputJSON
	}

	if update.Error != nil {
		values["error"] = *update.Error
	}

	if update.Metadata != nil {
		metadataJSON, err := toJSONB(update.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal step metadata: %w", err)
		}

		values["metadata"] = metadataJSON
	}

	if update.Attempts != nil {
		values["attempts"] = *update.Attempts
	}

	if update.CompletedAt != nil {
		values["completed_at"] = update.CompletedAt.UTC()
	}

	if update.DurationMs != nil {
		values["duration_ms"] = *update.DurationMs
	}

	if len(values) == 0 {
		return nil
	}

	affected, err := r.exec(ctx, psql.Update("execution_steps").SetMap(values).Where(squirrel.Eq{"id": id}))
	if err != nil {
		return persistence.NewEntityError("UpdateExecutionStep", "execution step", id, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("UpdateExecutionStep", "execution step", id, persistence.ErrExecutionStepNotFound)
	}

	return nil
}

func (r *ExecutionRepository) AddLog(ctx context.Context, entry *models.ExecutionLog) error {
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

	metadataJSON, err := toJSONB(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal log metadata: %w", err)
	}

	statement, args, err := psql.Insert("execution_logs").
		Columns(logColumns...).
		Values(entry.ID, entry.ExecutionID, entry.Level, entry.Message, metadataJSON, entry.Timestamp).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, statement, args...); err != nil {
		return persistence.NewEntityError("AddLog", "execution", entry.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionRepository) exec(ctx context.Context, builder squirrel.UpdateBuilder) (int64, error) {
	statement, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// explainMiss turns a zero-row update into not-found or terminal-state errors.
func (r *ExecutionRepository) explainMiss(ctx context.Context, op, id string) error {
	var status models.ExecutionStatus

	err := r.db.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = $1", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewEntityError(op, "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return persistence.NewEntityError(op, "execution", id, err)
	}

	return persistence.NewEntityError(op, "execution", id, persistence.ErrExecutionTerminal)
}

func (r *ExecutionRepository) loadSteps(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	statement, args, err := psql.Select(stepColumns...).
		From("execution_steps").
		Where(squirrel.Eq{"execution_id": executionID}).
		OrderBy("started_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.ExecutionStep, 0)

	for rows.Next() {
		var (
			step         models.ExecutionStep
			inputJSON    []byte
			outputJSON   []byte
			metadataJSON []byte
			completedAt  sql.NullTime
			durationMs   sql.NullInt64
		)

		err := rows.Scan(&step.ID, &step.ExecutionID, &step.StepID, &step.StepName, &step.StepType,
			&step.Status, &inputJSON, &outputJSON, &step.Error, &metadataJSON, &step.Attempts,
			&step.StartedAt, &completedAt, &durationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution step: %w", err)
		}

		if err := fromJSONB(inputJSON, &step.Input); err != nil {
			return nil, err
		}

		if err := fromJSONB(outputJSON, &step.Output); err != nil {
			return nil, err
		}

		if err := fromJSONB(metadataJSON, &step.Metadata); err != nil {
			return nil, err
		}

		step.CompletedAt = nullTime(completedAt)
		step.DurationMs = nullInt(durationMs)
		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

func (r *ExecutionRepository) loadLogs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	statement, args, err := psql.Select(logColumns...).
		From("execution_logs").
		Where(squirrel.Eq{"execution_id": executionID}).
		OrderBy("timestamp ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		var (
			entry        models.ExecutionLog
			metadataJSON []byte
		)

		err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.Level, &entry.Message, &metadataJSON, &entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		if err := fromJSONB(metadataJSON, &entry.Metadata); err != nil {
			return nil, err
		}

		logs = append(logs, &entry)
	}

	return logs, rows.Err()
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		triggerID    sql.NullString
		inputJSON    []byte
		outputJSON   []byte
		metadataJSON []byte
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		durationMs   sql.NullInt64
	)

	err := row.Scan(&execution.ID, &execution.WorkflowID, &execution.WorkflowVersionID, &triggerID,
		&execution.Status, &inputJSON, &outputJSON, &execution.Error, &metadataJSON, &startedAt,
		&completedAt, &durationMs, &execution.RetryCount, &execution.CreatedAt)
	if err != nil {
		return nil, err
	}

	execution.TriggerID = triggerID.String

	if err := fromJSONB(inputJSON, &execution.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	if err := fromJSONB(outputJSON, &execution.Output); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}

	if err := fromJSONB(metadataJSON, &execution.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	execution.StartedAt = nullTime(startedAt)
	execution.CompletedAt = nullTime(completedAt)
	execution.DurationMs = nullInt(durationMs)

	return &execution, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time

	return &t
}

func nullInt(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}

	n := value.Int64

	return &n
}
