package delay

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Boundaries(t *testing.T) {
	execCtx := models.NewExecutionContext("e", "w", "v", nil)

	result := NewRunner().Run(context.Background(), &models.DelayConfig{Milliseconds: -100}, execCtx)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "non-negative")

	started := time.Now()
	result = NewRunner().Run(context.Background(), &models.DelayConfig{Milliseconds: 400000}, execCtx)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "exceed")
	assert.Less(t, time.Since(started), 50*time.Millisecond, "rejected delays must not sleep")
}

func TestRunner_Sleeps(t *testing.T) {
	started := time.Now()

	result := NewRunner().Run(context.Background(), &models.DelayConfig{Milliseconds: 100},
		models.NewExecutionContext("e", "w", "v", nil))

	require.True(t, result.Success)
	assert.GreaterOrEqual(t, time.Since(started), 90*time.Millisecond)
	assert.Equal(t, int64(100), result.Output.(map[string]any)["delayed"])
}

func TestRunner_ZeroDelay(t *testing.T) {
	result := NewRunner().Run(context.Background(), &models.DelayConfig{},
		models.NewExecutionContext("e", "w", "v", nil))

	require.True(t, result.Success)
	assert.Equal(t, int64(0), result.Output.(map[string]any)["delayed"])
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := NewRunner().Run(ctx, &models.DelayConfig{Milliseconds: 5000},
		models.NewExecutionContext("e", "w", "v", nil))

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "interrupted")
}
