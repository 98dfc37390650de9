package retry

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_AlwaysFailingIsAttemptedMaxTimes(t *testing.T) {
	calls := 0
	retries := []int{}

	policy := Policy{MaxAttempts: 3, Backoff: time.Millisecond}

	result, attempts := policy.Run(context.Background(), func(context.Context) models.StepResult {
		calls++

		return models.Failed("boom", nil)
	}, func(attempt, maxAttempts int, previous models.StepResult) {
		assert.Equal(t, 3, maxAttempts)
		assert.False(t, previous.Success)

		retries = append(retries, attempt)
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
	assert.Equal(t, []int{2, 3}, retries)
}

func TestPolicy_FailTwiceThenSucceed(t *testing.T) {
	calls := 0

	policy := Policy{MaxAttempts: 3, Backoff: time.Millisecond}

	result, attempts := policy.Run(context.Background(), func(context.Context) models.StepResult {
		calls++
		if calls < 3 {
			return models.Failed("not yet", nil)
		}

		return models.Succeeded(map[string]any{"ok": true}, nil)
	}, nil)

	require.True(t, result.Success)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, map[string]any{"ok": true}, result.Output)
}

func TestPolicy_ExponentialDelay(t *testing.T) {
	var stamps []time.Time

	policy := Policy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}

	policy.Run(context.Background(), func(context.Context) models.StepResult {
		stamps = append(stamps, time.Now())

		return models.Failed("boom", nil)
	}, nil)

	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestPolicy_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0

	policy := Policy{MaxAttempts: 5}

	result, attempts := policy.Run(context.Background(), func(context.Context) models.StepResult {
		calls++

		return models.NonRetryable("invalid config", nil)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.False(t, result.Success)
}

func TestPolicy_PanicBecomesFailure(t *testing.T) {
	policy := Policy{MaxAttempts: 2}

	result, attempts := policy.Run(context.Background(), func(context.Context) models.StepResult {
		panic("runner defect")
	}, nil)

	assert.Equal(t, 2, attempts)
	assert.False(t, result.Success)
	assert.Equal(t, "runner defect", result.Error)
	assert.Equal(t, true, result.Metadata["panic"])
}

func TestPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0

	result, attempts := Policy{}.Run(context.Background(), func(context.Context) models.StepResult {
		calls++

		return models.Failed("boom", nil)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.False(t, result.Success)
}

func TestPolicy_CancelledDuringBackoffReturnsLastResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	policy := Policy{MaxAttempts: 3, Backoff: time.Hour}

	result, attempts := policy.Run(ctx, func(context.Context) models.StepResult {
		calls++

		time.AfterFunc(10*time.Millisecond, cancel)

		return models.Failed("boom", nil)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "boom", result.Error)
}

func TestPolicy_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, attempts := Policy{MaxAttempts: 3}.Run(ctx, func(context.Context) models.StepResult {
		return models.Succeeded(nil, nil)
	}, nil)

	assert.Zero(t, attempts)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "context canceled")
}

func TestFromSettings(t *testing.T) {
	policy := FromSettings(models.WorkflowSettings{})
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.Backoff)

	policy = FromSettings(models.WorkflowSettings{RetryMaxAttempts: 1, RetryBackoffMs: models.Ptr(int64(50))})
	assert.Equal(t, 1, policy.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, policy.Backoff)

	policy = FromSettings(models.WorkflowSettings{RetryBackoffMs: models.Ptr(int64(0))})
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Zero(t, policy.Backoff)
}
