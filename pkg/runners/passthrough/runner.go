// Package passthrough provides the runner shared by error_handler and fallback steps.
package passthrough

import (
	"context"

	"github.com/dukex/stepflow/pkg/interpolation"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// Runner outputs its interpolated value, or its message when no value is configured. The
// linear executor runs these steps in position order like any other.
type Runner struct {
	stepType models.StepType
}

var _ protocol.Runner = (*Runner)(nil)

// NewRunner creates a passthrough runner bound to stepType.
func NewRunner(stepType models.StepType) *Runner {
	return &Runner{stepType: stepType}
}

func (r *Runner) Type() models.StepType { return r.stepType }

func (r *Runner) Name() string {
	if r.stepType == models.StepTypeErrorHandler {
		return "Error Handler"
	}

	return "Fallback"
}

func (r *Runner) Description() string {
	return "Outputs a fixed or interpolated value"
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value":   map[string]any{"description": "Value to output, may contain {{placeholders}}"},
			"message": map[string]any{"type": "string"},
		},
	}
}

func (r *Runner) Run(_ context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.PassthroughConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	scope := execCtx.Scope()
	metadata := map[string]any{"kind": string(r.stepType)}

	if cfg.Value == nil {
		return models.Succeeded(interpolation.Interpolate(cfg.Message, scope), metadata)
	}

	return models.Succeeded(interpolation.Interpolate(cfg.Value, scope), metadata)
}
