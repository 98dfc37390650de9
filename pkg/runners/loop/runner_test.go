package loop

import (
	"context"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_ResolvesAndTruncates(t *testing.T) {
	execCtx := models.NewExecutionContext("e", "w", "v", map[string]any{
		"orders": []any{"o1", "o2", "o3"},
	})

	result := NewRunner().Run(context.Background(), &models.LoopConfig{
		Items:         "{{input.orders}}",
		MaxIterations: 2,
		StepID:        "notify",
		Parallel:      true,
	}, execCtx)

	require.True(t, result.Success)

	output := result.Output.(map[string]any)
	assert.Equal(t, []any{"o1", "o2"}, output["items"])
	assert.Equal(t, 2, output["count"])
	assert.Equal(t, "notify", output["stepId"])
	assert.Equal(t, true, output["parallel"])
	assert.Equal(t, true, result.Metadata["truncated"])
}

func TestRunner_LiteralTypedSlice(t *testing.T) {
	result := NewRunner().Run(context.Background(), &models.LoopConfig{
		Items: []string{"a", "b"},
	}, models.NewExecutionContext("e", "w", "v", nil))

	require.True(t, result.Success)
	assert.Equal(t, []any{"a", "b"}, result.Output.(map[string]any)["items"])
}

func TestRunner_NonArrayFails(t *testing.T) {
	tests := []any{"{{input.user}}", "plain", 42, map[string]any{"a": 1}}

	for _, items := range tests {
		execCtx := models.NewExecutionContext("e", "w", "v", map[string]any{"user": map[string]any{"id": 1}})

		result := NewRunner().Run(context.Background(), &models.LoopConfig{Items: items}, execCtx)

		require.False(t, result.Success)
		assert.Equal(t, "Loop items must be an array", result.Error)
	}
}
