// Package postgresql provides PostgreSQL persistence for workflows, versions, executions,
// triggers and credentials.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// psql builds statements with PostgreSQL placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	workflowRepo   *WorkflowRepository
	versionRepo    *VersionRepository
	executionRepo  *ExecutionRepository
	triggerRepo    *TriggerRepository
	credentialRepo *CredentialRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize components
	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:             database,
		logger:         logger,
		workflowRepo:   NewWorkflowRepository(database, logger),
		versionRepo:    NewVersionRepository(database, logger),
		executionRepo:  NewExecutionRepository(database, logger),
		triggerRepo:    NewTriggerRepository(database, logger),
		credentialRepo: NewCredentialRepository(database),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflowRepo }

func (p *Persistence) VersionRepository() persistence.VersionRepository { return p.versionRepo }

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository { return p.executionRepo }

func (p *Persistence) TriggerRepository() persistence.TriggerRepository { return p.triggerRepo }

func (p *Persistence) CredentialRepository() persistence.CredentialRepository {
	return p.credentialRepo
}

type rowScanner interface {
	Scan(dest ...any) error
}

// toJSONB marshals value for a JSONB column; nil maps become SQL NULL.
func toJSONB(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	if string(data) == "null" {
		return nil, nil
	}

	return data, nil
}

func fromJSONB(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, target)
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
