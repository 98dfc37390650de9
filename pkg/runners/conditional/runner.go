// Package conditional provides the conditional step runner.
package conditional

import (
	"context"

	"github.com/dukex/stepflow/pkg/interpolation"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

const LanguageCEL = "cel"

// Runner evaluates a boolean condition and reports the branch it selects. A malformed
// condition evaluates to false; it never fails the step.
type Runner struct{}

var _ protocol.Runner = (*Runner)(nil)

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Type() models.StepType { return models.StepTypeConditional }

func (r *Runner) Name() string { return "Conditional" }

func (r *Runner) Description() string {
	return "Evaluates a condition and selects the true or false step list"
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"condition"},
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Boolean expression over input, variables and metadata",
				"examples":    []string{"variables.count > 5", "input.status === 'active' && metadata.retry != true"},
			},
			"trueSteps":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"falseSteps": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"language":   map[string]any{"type": "string", "enum": []string{"expr", LanguageCEL}},
		},
	}
}

func (r *Runner) Run(_ context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.ConditionalConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	scope := map[string]any{
		"input":     execCtx.Input,
		"variables": execCtx.Variables,
		"metadata":  execCtx.Metadata,
	}

	var condition bool
	if cfg.Language == LanguageCEL {
		condition = interpolation.EvaluateCEL(cfg.Condition, scope)
	} else {
		condition = interpolation.EvaluateCondition(cfg.Condition, scope)
	}

	nextSteps := cfg.FalseSteps
	if condition {
		nextSteps = cfg.TrueSteps
	}

	if nextSteps == nil {
		nextSteps = []string{}
	}

	return models.Succeeded(map[string]any{
		"condition": condition,
		"nextSteps": nextSteps,
	}, nil)
}
