package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/postgresql"
	"github.com/dukex/stepflow/pkg/testutil"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// children first, parents last
	for _, table := range []string{
		"execution_logs", "execution_steps", "executions", "triggers", "credentials",
		"workflow_versions", "workflows", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container tests in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("stepflow_test"),
			postgres.WithUsername("stepflow"),
			postgres.WithPassword("stepflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx
}

func seedVersion(ctx context.Context, t *testing.T, p *postgresql.Persistence) (*models.Workflow, *models.WorkflowVersion) {
	t.Helper()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	version := testutil.CreateTestVersion(workflow.ID, testutil.CreateTestStep(testutil.WithStepID("wait")))
	require.NoError(t, p.VersionRepository().CreateVersion(ctx, version))

	return workflow, version
}

func TestPersistence_HealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}

func TestWorkflowRepository(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := testutil.CreateTestWorkflow(testutil.WithOwner("ana"))
	workflow.Metadata = map[string]any{"team": "growth"}
	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Equal(t, "growth", loaded.Metadata["team"])
	assert.Equal(t, models.DefaultRetryMaxAttempts, loaded.Settings.RetryMaxAttempts)

	workflow.Name = "Renamed Workflow"
	require.NoError(t, repo.Save(ctx, workflow))

	owned, err := repo.List(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "Renamed Workflow", owned[0].Name)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestVersionRepository_ActivationIsExclusive(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.VersionRepository()

	workflow, first := seedVersion(ctx, t, p)
	assert.Equal(t, 1, first.Version)

	second := testutil.CreateTestVersion(workflow.ID, testutil.CreateTestStep())
	require.NoError(t, repo.CreateVersion(ctx, second))
	assert.Equal(t, 2, second.Version)

	_, err := repo.GetActiveVersion(ctx, workflow.ID)
	require.ErrorIs(t, err, persistence.ErrNoActiveVersion)

	require.NoError(t, repo.ActivateVersion(ctx, workflow.ID, first.ID, time.Now()))
	require.NoError(t, repo.ActivateVersion(ctx, workflow.ID, second.ID, time.Now()))

	active, err := repo.GetActiveVersion(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	versions, err := repo.ListVersions(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.False(t, versions[1].IsActive)
	assert.NotNil(t, versions[1].PublishedAt)

	err = repo.ActivateVersion(ctx, workflow.ID, "missing", time.Now())
	require.ErrorIs(t, err, persistence.ErrVersionNotFound)
}

func TestVersionRepository_ConcurrentPublishes(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.VersionRepository()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			version := testutil.CreateTestVersion(workflow.ID, testutil.CreateTestStep())
			if err := repo.CreateVersion(ctx, version); err != nil {
				t.Errorf("create version: %v", err)

				return
			}

			if err := repo.ActivateVersion(ctx, workflow.ID, version.ID, time.Now()); err != nil {
				t.Errorf("activate version: %v", err)
			}
		}()
	}

	wg.Wait()

	versions, err := repo.ListVersions(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 8)

	active := 0

	for i, version := range versions {
		assert.Equal(t, 8-i, version.Version)

		if version.IsActive {
			active++
		}
	}

	assert.Equal(t, 1, active)
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionRepository()

	_, version := seedVersion(ctx, t, p)

	execution := testutil.CreateTestExecution(version, map[string]any{"n": 4})
	require.NoError(t, repo.CreateExecution(ctx, execution))

	claimed, err := repo.ClaimExecution(ctx, execution.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = repo.ClaimExecution(ctx, execution.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)

	step := &models.ExecutionStep{
		ExecutionID: execution.ID,
		StepID:      "wait",
		StepName:    "wait",
		StepType:    models.StepTypeDelay,
		Status:      models.ExecutionStatusRunning,
		Input:       map[string]any{"milliseconds": 0},
	}
	require.NoError(t, repo.CreateExecutionStep(ctx, step))

	completed := models.ExecutionStatusCompleted
	attempts := 1
	require.NoError(t, repo.UpdateExecutionStep(ctx, step.ID, models.ExecutionStepUpdate{
		Status:   &completed,
		Output:   map[string]any{"delayed": 0},
		Attempts: &attempts,
	}))

	require.NoError(t, repo.AddLog(ctx, &models.ExecutionLog{
		ExecutionID: execution.ID,
		Level:       models.LogLevelInfo,
		Message:     "Execution started",
	}))

	finished, err := repo.FinishExecution(ctx, execution.ID, models.ExecutionFinish{
		Status:      models.ExecutionStatusCompleted,
		Output:      map[string]any{"wait": map[string]any{"delayed": 0}},
		CompletedAt: time.Now(),
		DurationMs:  12,
	})
	require.NoError(t, err)
	require.True(t, finished)

	loaded, err := repo.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	assert.EqualValues(t, 4, loaded.Input["n"])
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, 1, loaded.Steps[0].Attempts)
	require.Len(t, loaded.Logs, 1)
	require.NotNil(t, loaded.DurationMs)

	failed := models.ExecutionStatusFailed
	err = repo.UpdateExecution(ctx, execution.ID, models.ExecutionUpdate{Status: &failed})
	require.ErrorIs(t, err, persistence.ErrExecutionTerminal)

	cancelled, err := repo.CancelExecution(ctx, execution.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = repo.GetExecution(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionRepository_CancelBeatsFinish(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionRepository()

	_, version := seedVersion(ctx, t, p)

	execution := testutil.CreateTestExecution(version, nil)
	require.NoError(t, repo.CreateExecution(ctx, execution))

	_, err := repo.ClaimExecution(ctx, execution.ID, time.Now().Add(-time.Second))
	require.NoError(t, err)

	cancelled, err := repo.CancelExecution(ctx, execution.ID, time.Now())
	require.NoError(t, err)
	require.True(t, cancelled)

	finished, err := repo.FinishExecution(ctx, execution.ID, models.ExecutionFinish{
		Status:      models.ExecutionStatusCompleted,
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, finished)

	loaded, err := repo.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, loaded.Status)
	require.NotNil(t, loaded.DurationMs)
	assert.GreaterOrEqual(t, *loaded.DurationMs, int64(900))
}

func TestExecutionRepository_CancelPending(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionRepository()

	_, version := seedVersion(ctx, t, p)

	execution := testutil.CreateTestExecution(version, nil)
	execution.CreatedAt = time.Now().UTC().Add(-2 * time.Second)
	require.NoError(t, repo.CreateExecution(ctx, execution))

	cancelled, err := repo.CancelExecution(ctx, execution.ID, time.Now())
	require.NoError(t, err)
	require.True(t, cancelled)

	loaded, err := repo.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)
	require.NotNil(t, loaded.DurationMs)
	assert.GreaterOrEqual(t, *loaded.DurationMs, int64(1900))

	err = repo.CreateExecution(ctx, testutil.CreateTestExecution(version, nil))
	require.NoError(t, err)

	duplicate := testutil.CreateTestExecution(version, nil)
	duplicate.ID = execution.ID
	require.ErrorIs(t, repo.CreateExecution(ctx, duplicate), persistence.ErrExecutionExists)
}

func TestTriggerAndCredentialRepositories(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow, _ := seedVersion(ctx, t, p)

	trigger := &models.Trigger{
		WorkflowID:  workflow.ID,
		Type:        models.TriggerTypeWebhook,
		Enabled:     true,
		InputSchema: map[string]any{"type": "object", "required": []any{"email"}},
	}
	require.NoError(t, p.TriggerRepository().SaveTrigger(ctx, trigger))

	loaded, err := p.TriggerRepository().GetTrigger(ctx, trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, "object", loaded.InputSchema["type"])

	webhooks, err := p.TriggerRepository().ListTriggers(ctx, models.TriggerTypeWebhook)
	require.NoError(t, err)
	require.Len(t, webhooks, 1)

	schedules, err := p.TriggerRepository().ListTriggers(ctx, models.TriggerTypeSchedule)
	require.NoError(t, err)
	assert.Empty(t, schedules)

	credential := &models.Credential{Name: "stripe", Type: "api_key", OwnerID: workflow.Owner, Ciphertext: []byte{1, 2, 3}}
	require.NoError(t, p.CredentialRepository().SaveCredential(ctx, credential))

	stored, err := p.CredentialRepository().GetCredential(ctx, credential.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, stored.Ciphertext)

	_, err = p.CredentialRepository().GetCredential(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrCredentialNotFound)
}

func TestNewPersistence_ConcurrentStartsMigrateOnce(t *testing.T) {
	_, ctx := setupTestDB(t)

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	var wg sync.WaitGroup

	errs := make(chan error, 3)

	for range 3 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
			if err == nil {
				err = p.Close(ctx)
			}

			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	var applied, distinct int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*), COUNT(DISTINCT version) FROM schema_migrations").Scan(&applied, &distinct))
	assert.Equal(t, distinct, applied)
	assert.Positive(t, applied)
}
