// Package transform provides the transform step runner: user code reshaping data inside a
// sandbox, or an in-process expr or jq expression.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/interpolation"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/sandbox"
)

const (
	DefaultTimeout = 5 * time.Second

	LanguageJavaScript = "javascript"
	LanguageExpr       = "expr"
	LanguageJQ         = "jq"
)

const failurePrefix = "Transform execution failed"

// Runner executes transform steps.
type Runner struct {
	sandbox sandbox.Sandbox
	jq      *jqEngine
	logger  *slog.Logger
}

var _ protocol.Runner = (*Runner)(nil)

// NewRunner creates a transform runner. JavaScript transforms run in sb.
func NewRunner(sb sandbox.Sandbox, logger *slog.Logger) *Runner {
	return &Runner{
		sandbox: sb,
		jq:      newJQEngine(),
		logger:  logger.With("module", "transform_runner"),
	}
}

func (r *Runner) Type() models.StepType { return models.StepTypeTransform }

func (r *Runner) Name() string { return "Transform" }

func (r *Runner) Description() string {
	return "Reshapes data with sandboxed JavaScript, an expr expression or a jq filter"
}

func (r *Runner) Run(ctx context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.TransformConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	scope := execCtx.Scope()

	var input any = execCtx.Variables
	if cfg.InputMapping != nil {
		input = interpolation.Interpolate(cfg.InputMapping, scope)
	}

	timeout := DefaultTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	started := time.Now()
	language := cfg.Language

	if language == "" {
		language = LanguageJavaScript
	}

	var (
		output any
		logs   []string
	)

	switch language {
	case LanguageJavaScript:
		output, logs, err = r.runJavaScript(ctx, cfg.Code, input, execCtx, timeout)
	case LanguageExpr:
		output, err = interpolation.Evaluate(cfg.Code, bindings(input, execCtx))
	case LanguageJQ:
		jqCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err = r.jq.evaluate(jqCtx, cfg.Code, input)

		cancel()
	default:
		return models.NonRetryable(fmt.Sprintf("%s: unsupported language %q", failurePrefix, language), nil)
	}

	metadata := map[string]any{
		"language":   language,
		"durationMs": time.Since(started).Milliseconds(),
	}

	if len(logs) > 0 {
		metadata["logs"] = logs
	}

	if err != nil {
		r.logger.DebugContext(ctx, "transform failed",
			"execution_id", execCtx.ExecutionID, "language", language, "error", err)

		if errors.Is(err, sandbox.ErrInterpreterNotFound) {
			return models.NonRetryable(fmt.Sprintf("%s: %s", failurePrefix, err), metadata)
		}

		return models.Failed(fmt.Sprintf("%s: %s", failurePrefix, err), metadata)
	}

	if cfg.OutputMapping != nil {
		output = interpolation.Interpolate(cfg.OutputMapping, map[string]any{
			"output": output,
			"input":  input,
		})
	}

	return models.Succeeded(output, metadata)
}

func (r *Runner) runJavaScript(
	ctx context.Context,
	code string,
	input any,
	execCtx *models.ExecutionContext,
	timeout time.Duration,
) (any, []string, error) {
	result, err := r.sandbox.Run(ctx, sandbox.Request{
		Language: sandbox.JavaScript,
		Code:     code,
		Bindings: bindings(input, execCtx),
		Timeout:  timeout,
	})
	if err != nil {
		return nil, nil, err
	}

	return result.Value, result.Logs, nil
}

func bindings(input any, execCtx *models.ExecutionContext) map[string]any {
	return map[string]any{
		"input":     input,
		"variables": execCtx.Variables,
		"metadata":  execCtx.Metadata,
		"context":   execCtx.Scope(),
	}
}
