// Package delay provides the delay step runner.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// MaxMilliseconds is the longest delay a single step may request.
const MaxMilliseconds = 300_000

// Runner suspends the execution for a fixed duration.
type Runner struct{}

var _ protocol.Runner = (*Runner)(nil)

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Type() models.StepType { return models.StepTypeDelay }

func (r *Runner) Name() string { return "Delay" }

func (r *Runner) Description() string {
	return "Waits for the configured number of milliseconds (at most 5 minutes)"
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"milliseconds"},
		"properties": map[string]any{
			"milliseconds": map[string]any{
				"type":        []string{"number", "string"},
				"description": "Delay in milliseconds",
			},
		},
	}
}

func (r *Runner) Run(ctx context.Context, config models.StepConfig, _ *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.DelayConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	ms := cfg.Milliseconds

	if ms < 0 {
		return models.NonRetryable("Delay milliseconds must be non-negative", map[string]any{"milliseconds": ms})
	}

	if ms > MaxMilliseconds {
		return models.NonRetryable(
			fmt.Sprintf("Delay cannot exceed %d milliseconds (5 minutes)", MaxMilliseconds),
			map[string]any{"milliseconds": ms},
		)
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return models.Failed(fmt.Sprintf("Delay interrupted: %v", ctx.Err()), nil)
	case <-timer.C:
	}

	return models.Succeeded(map[string]any{"delayed": ms}, nil)
}
