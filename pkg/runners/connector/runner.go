// Package connector provides the connector dispatch step runner.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/connectors"
	"github.com/dukex/stepflow/pkg/credentials"
	"github.com/dukex/stepflow/pkg/interpolation"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// Runner invokes an action on a registered connector. Credentials are decrypted for every
// invocation and dropped afterwards.
type Runner struct {
	connectors  *connectors.Registry
	credentials credentials.Store
	logger      *slog.Logger
}

var _ protocol.Runner = (*Runner)(nil)

func NewRunner(registry *connectors.Registry, store credentials.Store, logger *slog.Logger) *Runner {
	return &Runner{
		connectors:  registry,
		credentials: store,
		logger:      logger.With("module", "connector_runner"),
	}
}

func (r *Runner) Type() models.StepType { return models.StepTypeConnector }

func (r *Runner) Name() string { return "Connector" }

func (r *Runner) Description() string {
	return "Calls an external service (Slack, Discord, Stripe, SMTP or HTTP) through a connector"
}

func (r *Runner) Schema() map[string]any {
	connector := map[string]any{"type": "string"}
	if types := r.connectors.Types(); len(types) > 0 {
		connector["enum"] = types
	}

	return map[string]any{
		"type":     "object",
		"required": []string{"connector", "action"},
		"properties": map[string]any{
			"connector":    connector,
			"action":       map[string]any{"type": "string", "minLength": 1},
			"credentialId": map[string]any{"type": "string"},
			"params": map[string]any{
				"type":        "object",
				"description": "Action parameters; string values may contain {{placeholders}}",
			},
		},
	}
}

func (r *Runner) Run(ctx context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.ConnectorConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	connector, err := r.connectors.Get(cfg.Connector)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	metadata := map[string]any{
		"connector": cfg.Connector,
		"action":    cfg.Action,
	}

	var secrets map[string]string

	if cfg.CredentialID != "" {
		if r.credentials == nil {
			return models.NonRetryable("credential store is not configured", metadata)
		}

		secrets, err = r.credentials.GetDecryptedData(ctx, cfg.CredentialID, execCtx.OwnerID())
		if err != nil {
			r.logger.WarnContext(ctx, "credential lookup failed",
				"execution_id", execCtx.ExecutionID, "credential_id", cfg.CredentialID, "error", err)

			return models.NonRetryable(fmt.Sprintf("Credential %s unavailable: %s", cfg.CredentialID, err), metadata)
		}
	}

	params, _ := interpolation.Interpolate(cfg.Params, execCtx.Scope()).(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	started := time.Now()
	output, err := connector.Invoke(ctx, cfg.Action, params, secrets)
	metadata["durationMs"] = time.Since(started).Milliseconds()

	if err != nil {
		var apiErr *connectors.APIError
		if errors.As(err, &apiErr) {
			metadata["status"] = apiErr.Status

			if apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429 {
				return models.NonRetryable(err.Error(), metadata)
			}

			return models.Failed(err.Error(), metadata)
		}

		if errors.Is(err, connectors.ErrUnknownAction) ||
			errors.Is(err, connectors.ErrMissingParam) ||
			errors.Is(err, connectors.ErrMissingSecret) {
			return models.NonRetryable(err.Error(), metadata)
		}

		return models.Failed(err.Error(), metadata)
	}

	return models.Succeeded(output, metadata)
}
