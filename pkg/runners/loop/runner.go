// Package loop provides the loop step runner. It resolves and bounds the item list; iterating
// over it is left to the caller.
package loop

import (
	"context"
	"reflect"

	"github.com/dukex/stepflow/pkg/interpolation"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

type Runner struct{}

var _ protocol.Runner = (*Runner)(nil)

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Type() models.StepType { return models.StepTypeLoop }

func (r *Runner) Name() string { return "Loop" }

func (r *Runner) Description() string {
	return "Resolves a list of items, optionally bounded by maxIterations"
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"items"},
		"properties": map[string]any{
			"items": map[string]any{
				"description": "List of items or a placeholder resolving to one",
				"examples":    []string{"{{variables.fetch.data.items}}"},
			},
			"maxIterations": map[string]any{"type": "number", "minimum": 0},
			"stepId":        map[string]any{"type": "string"},
			"parallel":      map[string]any{"type": "boolean"},
		},
	}
}

func (r *Runner) Run(_ context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.LoopConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	items, ok := asList(interpolation.Interpolate(cfg.Items, execCtx.Scope()))
	if !ok {
		return models.Failed("Loop items must be an array", nil)
	}

	total := len(items)
	if cfg.MaxIterations > 0 && len(items) > cfg.MaxIterations {
		items = items[:cfg.MaxIterations]
	}

	return models.Succeeded(map[string]any{
		"items":    items,
		"count":    len(items),
		"stepId":   cfg.StepID,
		"parallel": cfg.Parallel,
	}, map[string]any{
		"total":     total,
		"truncated": total > len(items),
	})
}

func asList(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}
