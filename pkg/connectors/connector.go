// Package connectors adapts third-party services (Slack, Discord, Stripe, SMTP and generic
// HTTP APIs) behind a single Invoke contract used by connector steps.
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 30 * time.Second

var (
	ErrUnknownConnector = errors.New("unknown connector type")
	ErrUnknownAction    = errors.New("unknown connector action")
	ErrMissingParam     = errors.New("missing required parameter")
	ErrMissingSecret    = errors.New("missing credential value")
)

// Connector is one external-service adapter.
type Connector interface {
	Type() string
	Actions() []string
	Invoke(ctx context.Context, action string, params map[string]any, secrets map[string]string) (any, error)
}

// APIError is a provider response with an error status.
type APIError struct {
	Connector string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status %d: %s", e.Connector, e.Status, e.Body)
}

// Registry maps connector type names to adapters. It is built once at startup and passed
// to the components that need it.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry creates a registry holding connectors. A later connector replaces an earlier
// one with the same type.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector, len(connectors))}

	for _, connector := range connectors {
		r.connectors[connector.Type()] = connector
	}

	return r
}

// Get returns the adapter registered for connectorType.
func (r *Registry) Get(connectorType string) (Connector, error) {
	connector, ok := r.connectors[connectorType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, connectorType)
	}

	return connector, nil
}

// Types lists the registered connector types in lexical order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.connectors))
	for connectorType := range r.connectors {
		types = append(types, connectorType)
	}

	sort.Strings(types)

	return types
}

// NewHTTPClient returns the resty client shared by the HTTP based connectors.
func NewHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(defaultTimeout).
		SetHeader("User-Agent", "stepflow/1.0")
}

// Builtin returns every built-in connector using client for outbound HTTP.
func Builtin(client *resty.Client) []Connector {
	return []Connector{
		NewSlack(client),
		NewDiscord(client),
		NewStripe(client),
		NewHTTP(client),
		NewSMTP(),
	}
}

// DecodeBody parses a response body as JSON, falling back to text.
func DecodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}

	return string(body)
}

func checkAction(connector Connector, action string) error {
	if slices.Contains(connector.Actions(), action) {
		return nil
	}

	return fmt.Errorf("%w: %s.%s", ErrUnknownAction, connector.Type(), action)
}

func checkResponse(connector string, resp *resty.Response) error {
	if resp.StatusCode() >= 400 {
		return &APIError{Connector: connector, Status: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}

	return nil
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}

	if text, ok := value.(string); ok {
		return text
	}

	return fmt.Sprint(value)
}

func requireParam(params map[string]any, key string) (string, error) {
	value := stringParam(params, key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}

	return value, nil
}

func requireSecret(secrets map[string]string, key string) (string, error) {
	value := secrets[key]
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSecret, key)
	}

	return value, nil
}

func stringList(value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		parts := strings.Split(typed, ",")
		out := make([]string, 0, len(parts))

		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}

		return out
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			out = append(out, fmt.Sprint(item))
		}

		return out
	default:
		return []string{fmt.Sprint(typed)}
	}
}
