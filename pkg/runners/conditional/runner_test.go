package conditional

import (
	"context"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_BranchSelection(t *testing.T) {
	cfg := &models.ConditionalConfig{
		Condition:  "variables.count>5",
		TrueSteps:  []string{"a", "b"},
		FalseSteps: []string{"c"},
	}

	tests := []struct {
		name      string
		count     any
		condition bool
		nextSteps []string
	}{
		{"above threshold", 10, true, []string{"a", "b"}},
		{"below threshold", 3, false, []string{"c"}},
		{"json number", float64(6), true, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execCtx := models.NewExecutionContext("e", "w", "v", nil)
			execCtx.SetVariable("count", tt.count)

			result := NewRunner().Run(context.Background(), cfg, execCtx)
			require.True(t, result.Success)

			output := result.Output.(map[string]any)
			assert.Equal(t, tt.condition, output["condition"])
			assert.Equal(t, tt.nextSteps, output["nextSteps"])
		})
	}
}

func TestRunner_InvalidConditionFailsClosed(t *testing.T) {
	result := NewRunner().Run(context.Background(), &models.ConditionalConfig{
		Condition:  "invalid.property.access",
		TrueSteps:  []string{"a"},
		FalseSteps: nil,
	}, models.NewExecutionContext("e", "w", "v", nil))

	require.True(t, result.Success)

	output := result.Output.(map[string]any)
	assert.Equal(t, false, output["condition"])
	assert.Equal(t, []string{}, output["nextSteps"])
}

func TestRunner_CEL(t *testing.T) {
	execCtx := models.NewExecutionContext("e", "w", "v", map[string]any{"plan": "pro"})

	result := NewRunner().Run(context.Background(), &models.ConditionalConfig{
		Condition: "input.plan == 'pro'",
		Language:  LanguageCEL,
		TrueSteps: []string{"upsell"},
	}, execCtx)

	require.True(t, result.Success)
	assert.Equal(t, []string{"upsell"}, result.Output.(map[string]any)["nextSteps"])
}
