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
)

var triggerColumns = []string{
	"id", "workflow_id", "type", "schedule", "enabled", "input_schema", "metadata", "next_due_at",
	"created_at", "updated_at",
}

type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

func (r *TriggerRepository) SaveTrigger(ctx context.Context, trigger *models.Trigger) error {
	if trigger.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate trigger ID: %w", err)
		}

		trigger.ID = id.String()
	}

	now := time.Now().UTC()
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = now
	}

	trigger.UpdatedAt = now

	schemaJSON, err := toJSONB(trigger.InputSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal input schema: %w", err)
	}

	metadataJSON, err := toJSONB(trigger.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	statement, args, err := psql.Insert("triggers").
		Columns(triggerColumns...).
		Values(trigger.ID, trigger.WorkflowID, trigger.Type, trigger.Schedule, trigger.Enabled,
			schemaJSON, metadataJSON, trigger.NextDueAt, trigger.CreatedAt, trigger.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			type = EXCLUDED.type,
			schedule = EXCLUDED.schedule,
			enabled = EXCLUDED.enabled,
			input_schema = EXCLUDED.input_schema,
			metadata = EXCLUDED.metadata,
			next_due_at = EXCLUDED.next_due_at,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, statement, args...); err != nil {
		return persistence.NewEntityError("SaveTrigger", "trigger", trigger.ID, err)
	}

	return nil
}

func (r *TriggerRepository) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	statement, args, err := psql.Select(triggerColumns...).From("triggers").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, statement, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetTrigger", "trigger", id, persistence.ErrTriggerNotFound)
		}

		return nil, persistence.NewEntityError("GetTrigger", "trigger", id, err)
	}

	return trigger, nil
}

// ListTriggers returns triggers of the given type, or all of them when triggerType is empty.
func (r *TriggerRepository) ListTriggers(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	query := psql.Select(triggerColumns...).From("triggers").OrderBy("created_at ASC")
	if triggerType != "" {
		query = query.Where(squirrel.Eq{"type": triggerType})
	}

	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	return triggers, rows.Err()
}

func scanTrigger(row rowScanner) (*models.Trigger, error) {
	var (
		trigger      models.Trigger
		schemaJSON   []byte
		metadataJSON []byte
		nextDueAt    sql.NullTime
	)

	err := row.Scan(&trigger.ID, &trigger.WorkflowID, &trigger.Type, &trigger.Schedule, &trigger.Enabled,
		&schemaJSON, &metadataJSON, &nextDueAt, &trigger.CreatedAt, &trigger.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := fromJSONB(schemaJSON, &trigger.InputSchema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input schema: %w", err)
	}

	if err := fromJSONB(metadataJSON, &trigger.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	trigger.NextDueAt = nullTime(nextDueAt)

	return &trigger, nil
}
