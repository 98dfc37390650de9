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

var workflowColumns = []string{
	"id", "name", "description", "owner", "settings", "metadata", "created_at", "updated_at",
}

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// List returns workflows newest first, filtered by owner when ownerID is set.
func (r *WorkflowRepository) List(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	query := psql.Select(workflowColumns...).From("workflows").OrderBy("created_at DESC")
	if ownerID != "" {
		query = query.Where(squirrel.Eq{"owner": ownerID})
	}

	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	statement, args, err := psql.Select(workflowColumns...).From("workflows").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, statement, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewEntityError("GetByID", "workflow", id, err)
	}

	return workflow, nil
}

// Save saves a workflow to the database.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	settingsJSON, err := toJSONB(workflow.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	metadataJSON, err := toJSONB(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	statement, args, err := psql.Insert("workflows").
		Columns(workflowColumns...).
		Values(workflow.ID, workflow.Name, workflow.Description, workflow.Owner,
			settingsJSON, metadataJSON, workflow.CreatedAt, workflow.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			owner = EXCLUDED.owner,
			settings = EXCLUDED.settings,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	_, err = r.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return persistence.NewEntityError("Save", "workflow", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow together with its versions and triggers.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewEntityError("Delete", "workflow", id, err)
	}

	return nil
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow     models.Workflow
		settingsJSON []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Owner,
		&settingsJSON,
		&metadataJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := fromJSONB(settingsJSON, &workflow.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := fromJSONB(metadataJSON, &workflow.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &workflow, nil
}
