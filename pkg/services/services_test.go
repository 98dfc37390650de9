package services

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/credentials"
	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.events = append(p.events, event)

	return nil
}

type fixture struct {
	store      *file.Persistence
	publisher  *capturePublisher
	hub        *broadcast.Hub
	workflows  *Workflow
	executions *Execution
	triggers   *Trigger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())
	publisher := &capturePublisher{}
	hub := broadcast.NewHub()

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaults(registry.Dependencies{Logger: logger})

	dispatcher := dispatch.NewDispatcher(store, publisher, logger, nil)

	return &fixture{
		store:      store,
		publisher:  publisher,
		hub:        hub,
		workflows:  NewWorkflow(store, workflow.NewPublishingService(store, reg, logger), dispatcher),
		executions: NewExecution(store, hub, nil, logger),
		triggers:   NewTrigger(store, dispatcher),
	}
}

func (f *fixture) createWorkflow(t *testing.T) *models.Workflow {
	t.Helper()

	created, err := f.workflows.Create(context.Background(), &models.Workflow{Name: "Nightly sync", Owner: "user-1"})
	require.NoError(t, err)

	return created
}

func TestWorkflow_CreateAndFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createWorkflow(t)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := f.workflows.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nightly sync", fetched.Name)

	listed, err := f.workflows.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	listed, err = f.workflows.List(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = f.workflows.FetchByID(ctx, "missing")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestWorkflow_CreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflows.Create(context.Background(), &models.Workflow{Name: "ok name", Owner: "  "})
	require.ErrorIs(t, err, ErrEmptyOwnerID)

	_, err = f.workflows.Create(context.Background(), &models.Workflow{Name: "x", Owner: "user-1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.True(t, IsValidationError(err))
}

func TestWorkflow_PublishAndExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createWorkflow(t)

	_, err := f.workflows.Execute(ctx, created.ID, nil)
	require.ErrorIs(t, err, persistence.ErrNoActiveVersion)

	_, err = f.workflows.Publish(ctx, created.ID, nil)
	require.ErrorIs(t, err, workflow.ErrInvalidVersion)
	assert.True(t, IsValidationError(err))

	version, err := f.workflows.Publish(ctx, created.ID, []*models.StepDefinition{testutil.CreateTestStep()})
	require.NoError(t, err)
	assert.Equal(t, 1, version.Version)

	executionID, err := f.workflows.Execute(ctx, created.ID, map[string]any{"n": 2})
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	req := f.publisher.events[0].(events.DispatchRequested)
	assert.Equal(t, dispatch.ExecutionIDFor(req.ID), executionID)
	assert.Equal(t, "manual", req.Metadata["source"])

	versions, err := f.workflows.Versions(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	_, err = f.workflows.Execute(ctx, "missing", nil)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflow_Delete(t *testing.T) {
	f := newFixture(t)
	created := f.createWorkflow(t)

	require.NoError(t, f.workflows.Delete(context.Background(), created.ID))
	require.ErrorIs(t, f.workflows.Delete(context.Background(), created.ID), ErrWorkflowNotFound)
}

func TestExecution_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createWorkflow(t)

	version, err := f.workflows.Publish(ctx, created.ID, []*models.StepDefinition{testutil.CreateTestStep()})
	require.NoError(t, err)

	execution := testutil.CreateTestExecution(version, nil)
	require.NoError(t, f.store.ExecutionRepository().CreateExecution(ctx, execution))

	messages, unsubscribe, err := f.hub.Subscribe(ctx, execution.ID)
	require.NoError(t, err)
	defer unsubscribe()

	cancelled, err := f.executions.Cancel(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	require.NotEmpty(t, cancelled.Logs)
	assert.Equal(t, "Execution cancelled", cancelled.Logs[len(cancelled.Logs)-1].Message)

	select {
	case msg := <-messages:
		assert.Equal(t, events.Cancelled, msg.Event)
		assert.Equal(t, execution.ID, msg.Payload["executionId"])
	case <-time.After(time.Second):
		t.Fatal("cancellation not broadcast")
	}

	_, err = f.executions.Cancel(ctx, execution.ID)
	require.ErrorIs(t, err, ErrExecutionNotCancellable)
	assert.True(t, IsConflictError(err))

	_, err = f.executions.Cancel(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	listed, err := f.executions.List(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestTrigger_CreateAndWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createWorkflow(t)

	schedule, err := f.triggers.Create(ctx, &models.Trigger{
		WorkflowID: created.ID, Type: models.TriggerTypeSchedule, Schedule: "*/5 * * * *", Enabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, schedule.NextDueAt)
	assert.True(t, schedule.NextDueAt.After(schedule.CreatedAt))

	_, err = f.triggers.Create(ctx, &models.Trigger{
		WorkflowID: created.ID, Type: models.TriggerTypeSchedule, Schedule: "every tuesday",
	})
	require.ErrorIs(t, err, models.ErrInvalidSchedule)
	assert.True(t, IsValidationError(err))

	_, err = f.triggers.Create(ctx, &models.Trigger{WorkflowID: created.ID, Type: "carrier-pigeon"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.triggers.Create(ctx, &models.Trigger{
		WorkflowID: created.ID, Type: models.TriggerTypeWebhook, InputSchema: map[string]any{"type": 12},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.triggers.Create(ctx, &models.Trigger{WorkflowID: "missing", Type: models.TriggerTypeWebhook})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	hook, err := f.triggers.Create(ctx, &models.Trigger{
		WorkflowID: created.ID, Type: models.TriggerTypeWebhook, Enabled: true,
	})
	require.NoError(t, err)
	assert.Nil(t, hook.NextDueAt)

	executionID, err := f.triggers.Webhook(ctx, hook.ID, map[string]any{"event": "signup"})
	require.NoError(t, err)
	assert.NotEmpty(t, executionID)

	_, err = f.triggers.Webhook(ctx, schedule.ID, nil)
	require.ErrorIs(t, err, dispatch.ErrTriggerType)
	assert.True(t, IsConflictError(err))

	webhooks, err := f.triggers.List(ctx, models.TriggerTypeWebhook)
	require.NoError(t, err)
	assert.Len(t, webhooks, 1)
}

func TestCredential_Create(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	disabled := NewCredential(store, nil)
	_, err := disabled.Create(context.Background(), "smtp", "smtp", "user-1", map[string]string{"password": "x"})
	require.ErrorIs(t, err, ErrVaultDisabled)

	vault, err := credentials.NewVault(store.CredentialRepository(), credentials.KeyConfig{MasterKey: bytes.Repeat([]byte{3}, 32)})
	require.NoError(t, err)

	svc := NewCredential(store, vault)

	_, err = svc.Create(context.Background(), "smtp", "smtp", "", map[string]string{"password": "x"})
	require.ErrorIs(t, err, ErrEmptyOwnerID)

	_, err = svc.Create(context.Background(), "smtp", "smtp", "user-1", nil)
	require.ErrorIs(t, err, ErrCredentialEmpty)

	created, err := svc.Create(context.Background(), "smtp", "smtp", "user-1", map[string]string{"password": "hunter2"})
	require.NoError(t, err)
	assert.NotContains(t, string(created.Ciphertext), "hunter2")

	fetched, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", fetched.OwnerID)

	data, err := vault.GetDecryptedData(context.Background(), created.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", data["password"])
}
