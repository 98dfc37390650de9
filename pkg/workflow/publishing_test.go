package workflow_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeVersions(t *testing.T, h *harness, workflowID string) []*models.WorkflowVersion {
	t.Helper()

	versions, err := h.persistence.VersionRepository().ListVersions(context.Background(), workflowID)
	require.NoError(t, err)

	active := make([]*models.WorkflowVersion, 0)

	for _, version := range versions {
		if version.IsActive {
			active = append(active, version)
		}
	}

	return active
}

func TestPublishingService_LatestVersionIsTheOnlyActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := testutil.CreateTestWorkflow()
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, wf))

	for n := 1; n <= 3; n++ {
		version, err := h.publishing.PublishVersion(ctx, wf.ID, []*models.StepDefinition{testutil.CreateTestStep()})
		require.NoError(t, err)
		assert.Equal(t, n, version.Version)
		assert.True(t, version.IsActive)
		assert.NotNil(t, version.PublishedAt)

		active := activeVersions(t, h, wf.ID)
		require.Len(t, active, 1)
		assert.Equal(t, n, active[0].Version)
	}
}

func TestPublishingService_ConcurrentPublishesKeepOneActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := testutil.CreateTestWorkflow()
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, wf))

	var wg sync.WaitGroup

	for range 6 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := h.publishing.PublishVersion(ctx, wf.ID, []*models.StepDefinition{testutil.CreateTestStep()})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	versions, err := h.persistence.VersionRepository().ListVersions(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 6)
	assert.Len(t, activeVersions(t, h, wf.ID), 1)
}

func TestPublishingService_SnapshotsSteps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := testutil.CreateTestWorkflow()
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, wf))

	step := testutil.CreateTestStep(testutil.WithStepID("wait"))

	version, err := h.publishing.PublishVersion(ctx, wf.ID, []*models.StepDefinition{step})
	require.NoError(t, err)

	step.Config["milliseconds"] = 999

	stored, err := h.persistence.VersionRepository().GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stored.Steps[0].Config["milliseconds"])
}

func TestPublishingService_RejectsInvalidVersions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := testutil.CreateTestWorkflow()
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, wf))

	tests := []struct {
		name  string
		steps []*models.StepDefinition
	}{
		{"no steps", nil},
		{"unknown type", []*models.StepDefinition{
			testutil.CreateTestStep(testutil.WithStepType("teleport", map[string]any{})),
		}},
		{"missing required config", []*models.StepDefinition{
			testutil.CreateTestStep(testutil.WithStepType(models.StepTypeConditional, map[string]any{"trueSteps": []any{"a"}})),
		}},
		{"duplicate ids", []*models.StepDefinition{
			testutil.CreateTestStep(testutil.WithStepID("same")),
			testutil.CreateTestStep(testutil.WithStepID("same")),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.publishing.PublishVersion(ctx, wf.ID, tt.steps)
			require.ErrorIs(t, err, workflow.ErrInvalidVersion)
		})
	}

	_, err := h.persistence.VersionRepository().GetActiveVersion(ctx, wf.ID)
	require.ErrorIs(t, err, persistence.ErrNoActiveVersion)
}

func TestPublishingService_UnknownWorkflow(t *testing.T) {
	h := newHarness(t)

	_, err := h.publishing.PublishVersion(context.Background(), "missing", []*models.StepDefinition{testutil.CreateTestStep()})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestPublishingService_ActivateVersionRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := testutil.CreateTestWorkflow()
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, wf))

	first, err := h.publishing.PublishVersion(ctx, wf.ID, []*models.StepDefinition{testutil.CreateTestStep()})
	require.NoError(t, err)

	_, err = h.publishing.PublishVersion(ctx, wf.ID, []*models.StepDefinition{testutil.CreateTestStep()})
	require.NoError(t, err)

	restored, err := h.publishing.ActivateVersion(ctx, wf.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, restored.IsActive)

	active := activeVersions(t, h, wf.ID)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	other := testutil.CreateTestWorkflow()
	require.NoError(t, h.persistence.WorkflowRepository().Save(ctx, other))

	_, err = h.publishing.ActivateVersion(ctx, other.ID, first.ID)
	require.ErrorIs(t, err, persistence.ErrVersionNotFound)
}
