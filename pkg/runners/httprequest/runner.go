// Package httprequest provides the http_request step runner.
package httprequest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/dukex/stepflow/pkg/connectors"
	"github.com/dukex/stepflow/pkg/interpolation"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 30 * time.Second

// Runner issues one HTTP request per step. Every response status counts as a successful call.
type Runner struct {
	client *resty.Client
	logger *slog.Logger
}

var _ protocol.Runner = (*Runner)(nil)

// NewRunner creates a runner that sends requests with client.
func NewRunner(client *resty.Client, logger *slog.Logger) *Runner {
	return &Runner{
		client: client,
		logger: logger.With("module", "http_request_runner"),
	}
}

func (r *Runner) Type() models.StepType { return models.StepTypeHTTPRequest }

func (r *Runner) Name() string { return "HTTP Request" }

func (r *Runner) Description() string {
	return "Performs an HTTP request and returns the status, headers and parsed body"
}

func (r *Runner) Run(ctx context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult {
	cfg, err := protocol.ConfigAs[models.HTTPRequestConfig](config)
	if err != nil {
		return models.NonRetryable(err.Error(), nil)
	}

	scope := execCtx.Scope()
	target := interpolation.InterpolateString(cfg.URL, scope)

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := DefaultTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := r.client.R().SetContext(reqCtx)
	request.SetHeaders(stringMap(cfg.Headers, scope))
	request.SetQueryParams(stringMap(cfg.Query, scope))

	if cfg.Body != nil {
		request.SetBody(interpolation.Interpolate(cfg.Body, scope))
	}

	started := time.Now()

	resp, err := request.Execute(method, target)
	if err != nil {
		code := errorCode(err)

		r.logger.WarnContext(ctx, "http request failed",
			"execution_id", execCtx.ExecutionID, "url", target, "code", code, "error", err)

		return models.Failed(err.Error(), map[string]any{
			"code": code,
			"url":  target,
		})
	}

	return models.Succeeded(map[string]any{
		"status":     resp.StatusCode(),
		"statusText": http.StatusText(resp.StatusCode()),
		"headers":    headerMap(resp.Header()),
		"data":       connectors.DecodeBody(resp.Body()),
	}, map[string]any{
		"status":     resp.StatusCode(),
		"method":     method,
		"url":        target,
		"durationMs": time.Since(started).Milliseconds(),
	})
}

func stringMap(values map[string]any, scope map[string]any) map[string]string {
	out := make(map[string]string, len(values))

	for key, value := range values {
		out[key] = interpolation.Stringify(interpolation.Interpolate(value, scope))
	}

	return out
}

func headerMap(header http.Header) map[string]any {
	out := make(map[string]any, len(header))
	for key, values := range header {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	return out
}

func errorCode(err error) string {
	var dnsErr *net.DNSError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	case errors.Is(err, context.Canceled):
		return "ECANCELED"
	case errors.As(err, &dnsErr):
		return "ENOTFOUND"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}

	return "EREQUEST"
}
