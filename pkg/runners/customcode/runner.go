// Package customcode provides the custom_code step runner.
package customcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/sandbox"
)

const DefaultTimeout = 30 * time.Second

// Runner executes user authored JavaScript or Python inside a sandbox.
type Runner struct {
	sandbox sandbox.Sandbox
	logger  *slog.Logger
}

var _ protocol.Runner = (*Runner)(nil)

func NewRunner(sb sandbox.Sandbox, logger *slog.Logger) *Runner {
	return &Runner{
		sandbox: sb,
		logger:  logger.With("module", "custom_code_runner"),
	}
}

func (r *Runner) Type() models.StepType { return models.StepTypeCustomCode }

func (r *Runner) Name() string { return "Custom Code" }

func (r *Runner) Description() string {
	return "Runs JavaScript or Python code with a hard time limit"
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"language", "code"},
		"properties": map[string]any{
			"language": map[string]any{
				"type": "string",
				"enum": []string{string(sandbox.JavaScript), string(sandbox.Python)},
			},
			"code": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples": []string{
					"return input.items.filter(i => i.active).length;",
					"print(len(input['items']))",
				},
			},
			"timeoutMs": map[string]any{"type": "number", "minimum": 0, "default": 30000},
		},
	}
}

func (r *Runner) Run(ctx context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.CustomCodeConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	timeout := DefaultTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	language := sandbox.Language(cfg.Language)
	label := displayName(language)

	if label == "" {
		return models.NonRetryable(fmt.Sprintf("Unsupported language: %s", cfg.Language), nil)
	}

	result, err := r.sandbox.Run(ctx, sandbox.Request{
		Language: language,
		Code:     cfg.Code,
		Bindings: map[string]any{
			"input":     execCtx.Input,
			"variables": execCtx.Variables,
			"metadata":  execCtx.Metadata,
			"context":   execCtx.Scope(),
		},
		Timeout: timeout,
	})
	if err != nil {
		r.logger.DebugContext(ctx, "custom code failed",
			"execution_id", execCtx.ExecutionID, "language", language, "error", err)

		switch {
		case errors.Is(err, sandbox.ErrTimeout):
			return models.Failed(fmt.Sprintf("%s execution timed out after %dms", label, timeout.Milliseconds()), nil)
		case errors.Is(err, sandbox.ErrInterpreterNotFound), errors.Is(err, sandbox.ErrUnsupportedLanguage):
			return models.NonRetryable(fmt.Sprintf("%s execution failed: %s", label, err), nil)
		}

		var codeErr *sandbox.CodeError
		if errors.As(err, &codeErr) && codeErr.Stderr != "" {
			return models.Failed(fmt.Sprintf("%s execution failed: %s", label, codeErr.Message),
				map[string]any{"stderr": codeErr.Stderr, "exitCode": codeErr.ExitCode})
		}

		return models.Failed(fmt.Sprintf("%s execution failed: %s", label, err), nil)
	}

	metadata := map[string]any{
		"language":   string(language),
		"durationMs": result.Duration.Milliseconds(),
	}

	if len(result.Logs) > 0 {
		metadata["logs"] = result.Logs
	}

	return models.Succeeded(result.Value, metadata)
}

func displayName(language sandbox.Language) string {
	switch language {
	case sandbox.JavaScript:
		return "JavaScript"
	case sandbox.Python:
		return "Python"
	default:
		return ""
	}
}
