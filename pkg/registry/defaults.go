package registry

import (
	"log/slog"

	"github.com/dukex/stepflow/pkg/connectors"
	"github.com/dukex/stepflow/pkg/credentials"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/runners/conditional"
	"github.com/dukex/stepflow/pkg/runners/connector"
	"github.com/dukex/stepflow/pkg/runners/customcode"
	"github.com/dukex/stepflow/pkg/runners/delay"
	"github.com/dukex/stepflow/pkg/runners/httprequest"
	"github.com/dukex/stepflow/pkg/runners/loop"
	"github.com/dukex/stepflow/pkg/runners/passthrough"
	"github.com/dukex/stepflow/pkg/runners/transform"
	"github.com/dukex/stepflow/pkg/sandbox"
	"github.com/go-resty/resty/v2"
)

// Dependencies are the collaborators shared by the built-in runners. Nil fields get
// defaults; a nil Credentials store makes connector steps with a credentialId fail.
type Dependencies struct {
	Logger      *slog.Logger
	HTTPClient  *resty.Client
	Sandbox     sandbox.Sandbox
	Connectors  *connectors.Registry
	Credentials credentials.Store
}

// RegisterDefaults registers a runner for every built-in step type.
func (r *Registry) RegisterDefaults(deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = r.logger
	}

	client := deps.HTTPClient
	if client == nil {
		client = connectors.NewHTTPClient()
	}

	sb := deps.Sandbox
	if sb == nil {
		sb = sandbox.NewProcessSandbox(logger)
	}

	connectorRegistry := deps.Connectors
	if connectorRegistry == nil {
		connectorRegistry = connectors.NewRegistry(connectors.Builtin(client)...)
	}

	r.Register(httprequest.NewRunner(client, logger))
	r.Register(transform.NewRunner(sb, logger))
	r.Register(conditional.NewRunner())
	r.Register(loop.NewRunner())
	r.Register(delay.NewRunner())
	r.Register(customcode.NewRunner(sb, logger))
	r.Register(connector.NewRunner(connectorRegistry, deps.Credentials, logger))
	r.Register(passthrough.NewRunner(models.StepTypeErrorHandler))
	r.Register(passthrough.NewRunner(models.StepTypeFallback))
}
