package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/dispatch"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu         sync.Mutex
	dispatches []events.DispatchRequested
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req, ok := event.(events.DispatchRequested); ok {
		p.dispatches = append(p.dispatches, req)
	}

	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.dispatches)
}

var now = time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup(t *testing.T) (persistence.Persistence, *recordingPublisher, *scheduler.Scheduler) {
	t.Helper()

	logger := testLogger()
	store := file.NewPersistence(t.TempDir())
	publisher := &recordingPublisher{}
	dispatcher := dispatch.NewDispatcher(store, publisher, logger, metrics.New())

	s := scheduler.New(store, dispatcher, logger, scheduler.WithClock(func() time.Time { return now }))

	return store, publisher, s
}

func scheduleTrigger(t *testing.T, store persistence.Persistence, enabled bool, nextDueAt *time.Time) *models.Trigger {
	t.Helper()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	trigger := &models.Trigger{
		ID:         "trg-" + workflow.ID,
		WorkflowID: workflow.ID,
		Type:       models.TriggerTypeSchedule,
		Schedule:   "*/15 * * * *",
		Enabled:    enabled,
		NextDueAt:  nextDueAt,
		CreatedAt:  now.Add(-time.Hour),
	}
	require.NoError(t, store.TriggerRepository().SaveTrigger(context.Background(), trigger))

	return trigger
}

func TestPoll_FiresDueTriggerAndAdvances(t *testing.T) {
	store, publisher, s := setup(t)

	due := now.Add(-7 * time.Minute)
	trigger := scheduleTrigger(t, store, true, &due)

	fired, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	require.Len(t, publisher.dispatches, 1)
	job := publisher.dispatches[0]
	assert.Equal(t, trigger.WorkflowID, job.WorkflowID)
	assert.Equal(t, trigger.ID, job.TriggerID)
	assert.Equal(t, due.Format(time.RFC3339), job.Input["scheduledAt"])
	assert.Equal(t, "schedule", job.Metadata["source"])

	stored, err := store.TriggerRepository().GetTrigger(context.Background(), trigger.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextDueAt)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC), stored.NextDueAt.UTC())
}

func TestPoll_MissedFireTimesFireOnce(t *testing.T) {
	store, publisher, s := setup(t)

	due := now.Add(-3 * time.Hour)
	scheduleTrigger(t, store, true, &due)

	fired, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, publisher.count())

	fired, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestPoll_SkipsFutureAndDisabledTriggers(t *testing.T) {
	store, publisher, s := setup(t)

	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	scheduleTrigger(t, store, true, &future)
	scheduleTrigger(t, store, false, &past)

	fired, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Zero(t, publisher.count())
}

func TestPoll_ArmsTriggerWithoutDueTime(t *testing.T) {
	store, publisher, s := setup(t)

	trigger := scheduleTrigger(t, store, true, nil)

	fired, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Zero(t, publisher.count())

	stored, err := store.TriggerRepository().GetTrigger(context.Background(), trigger.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextDueAt)
	assert.True(t, stored.NextDueAt.After(now))
}

func TestStart_PollsImmediately(t *testing.T) {
	store, publisher, s := setup(t)

	due := now.Add(-time.Minute)
	scheduleTrigger(t, store, true, &due)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return publisher.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPoll_ListFailure(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.Triggers.On("ListTriggers", mock.Anything, models.TriggerTypeSchedule).Return(nil, errors.New("connection reset"))

	dispatcher := dispatch.NewDispatcher(store, &recordingPublisher{}, testLogger(), metrics.New())
	s := scheduler.New(store, dispatcher, testLogger())

	_, err := s.Poll(context.Background())
	require.ErrorContains(t, err, "connection reset")
}

func TestPoll_SaveFailureStillCountsFire(t *testing.T) {
	due := now.Add(-time.Minute)
	trigger := &models.Trigger{
		ID:         "trg-1",
		WorkflowID: "wf-1",
		Type:       models.TriggerTypeSchedule,
		Schedule:   "@hourly",
		Enabled:    true,
		NextDueAt:  &due,
	}

	store := mocks.NewMockPersistence()
	store.Triggers.On("ListTriggers", mock.Anything, models.TriggerTypeSchedule).Return([]*models.Trigger{trigger}, nil)
	store.Triggers.On("SaveTrigger", mock.Anything, trigger).Return(errors.New("disk full"))

	publisher := &recordingPublisher{}
	dispatcher := dispatch.NewDispatcher(store, publisher, testLogger(), metrics.New())
	s := scheduler.New(store, dispatcher, testLogger(), scheduler.WithClock(func() time.Time { return now }))

	fired, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, publisher.count())
	store.Triggers.AssertExpectations(t)
}
