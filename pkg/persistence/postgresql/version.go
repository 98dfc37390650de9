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

var versionColumns = []string{
	"id", "workflow_id", "version", "steps", "is_active", "created_at", "published_at",
}

type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewVersionRepository(db *sql.DB, logger *slog.Logger) *VersionRepository {
	return &VersionRepository{db: db, logger: logger}
}

// CreateVersion inserts an inactive version. The workflow row is locked while the next
// version number is computed so concurrent publishers get distinct numbers.
func (r *VersionRepository) CreateVersion(ctx context.Context, version *models.WorkflowVersion) (err error) {
	if version.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate version ID: %w", err)
		}

		version.ID = id.String()
	}

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	stepsJSON, err := toJSONB(version.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	if stepsJSON == nil {
		stepsJSON = []byte("[]")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string

	err = tx.QueryRowContext(ctx, "SELECT id FROM workflows WHERE id = $1 FOR UPDATE", version.WorkflowID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewEntityError("CreateVersion", "workflow", version.WorkflowID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewEntityError("CreateVersion", "workflow", version.WorkflowID, err)
	}

	if version.Version == 0 {
		err = tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(version), 0) + 1 FROM workflow_versions WHERE workflow_id = $1",
			version.WorkflowID,
		).Scan(&version.Version)
		if err != nil {
			return persistence.NewEntityError("CreateVersion", "workflow", version.WorkflowID, err)
		}
	}

	version.IsActive = false
	version.PublishedAt = nil

	statement, args, err := psql.Insert("workflow_versions").
		Columns(versionColumns...).
		Values(version.ID, version.WorkflowID, version.Version, stepsJSON, false, version.CreatedAt, nil).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	_, err = tx.ExecContext(ctx, statement, args...)
	if err != nil {
		return persistence.NewEntityError("CreateVersion", "workflow", version.WorkflowID, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}

	return nil
}

func (r *VersionRepository) GetVersion(ctx context.Context, id string) (*models.WorkflowVersion, error) {
	return r.getOne(ctx, "GetVersion", "version", id, squirrel.Eq{"id": id}, persistence.ErrVersionNotFound)
}

func (r *VersionRepository) GetActiveVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	return r.getOne(ctx, "GetActiveVersion", "workflow", workflowID,
		squirrel.Eq{"workflow_id": workflowID, "is_active": true}, persistence.ErrNoActiveVersion)
}

func (r *VersionRepository) ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	statement, args, err := psql.Select(versionColumns...).
		From("workflow_versions").
		Where(squirrel.Eq{"workflow_id": workflowID}).
		OrderBy("version DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, persistence.NewEntityError("ListVersions", "workflow", workflowID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, version)
	}

	return versions, rows.Err()
}

// ActivateVersion swaps the active version inside one transaction.
func (r *VersionRepository) ActivateVersion(ctx context.Context, workflowID, versionID string, publishedAt time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string

	err = tx.QueryRowContext(ctx, "SELECT id FROM workflows WHERE id = $1 FOR UPDATE", workflowID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewEntityError("ActivateVersion", "workflow", workflowID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewEntityError("ActivateVersion", "workflow", workflowID, err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE workflow_versions SET is_active = false WHERE workflow_id = $1 AND is_active", workflowID)
	if err != nil {
		return persistence.NewEntityError("ActivateVersion", "workflow", workflowID, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE workflow_versions
		SET is_active = true, published_at = COALESCE(published_at, $3)
		WHERE id = $1 AND workflow_id = $2`,
		versionID, workflowID, publishedAt.UTC(),
	)
	if err != nil {
		return persistence.NewEntityError("ActivateVersion", "version", versionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("ActivateVersion", "version", versionID, err)
	}

	if affected == 0 {
		err = persistence.NewEntityError("ActivateVersion", "version", versionID, persistence.ErrVersionNotFound)

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}

	return nil
}

func (r *VersionRepository) NextVersionNumber(ctx context.Context, workflowID string) (int, error) {
	var next int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM workflow_versions WHERE workflow_id = $1", workflowID,
	).Scan(&next)
	if err != nil {
		return 0, persistence.NewEntityError("NextVersionNumber", "workflow", workflowID, err)
	}

	return next, nil
}

func (r *VersionRepository) getOne(
	ctx context.Context,
	op, entity, id string,
	where squirrel.Eq,
	notFound error,
) (*models.WorkflowVersion, error) {
	statement, args, err := psql.Select(versionColumns...).From("workflow_versions").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	version, err := scanVersion(r.db.QueryRowContext(ctx, statement, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError(op, entity, id, notFound)
		}

		return nil, persistence.NewEntityError(op, entity, id, err)
	}

	return version, nil
}

func scanVersion(row rowScanner) (*models.WorkflowVersion, error) {
	var (
		version     models.WorkflowVersion
		stepsJSON   []byte
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&version.ID,
		&version.WorkflowID,
		&version.Version,
		&stepsJSON,
		&version.IsActive,
		&version.CreatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := fromJSONB(stepsJSON, &version.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if publishedAt.Valid {
		version.PublishedAt = &publishedAt.Time
	}

	return &version, nil
}
