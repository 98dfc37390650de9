package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// HTTP performs a generic API call. Credentials may carry "token" (bearer), "username" and
// "password" (basic), or "api_key" sent in the header named by "header" (default X-API-Key).
type HTTP struct {
	client *resty.Client
}

func NewHTTP(client *resty.Client) *HTTP {
	return &HTTP{client: client}
}

func (h *HTTP) Type() string { return "http" }

func (h *HTTP) Actions() []string { return []string{"request"} }

func (h *HTTP) Invoke(ctx context.Context, action string, params map[string]any, secrets map[string]string) (any, error) {
	if err := checkAction(h, action); err != nil {
		return nil, err
	}

	target, err := requireParam(params, "url")
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(stringParam(params, "method"))
	if method == "" {
		method = http.MethodGet
	}

	request := h.client.R().SetContext(ctx)

	if headers, ok := params["headers"].(map[string]any); ok {
		for key, value := range headers {
			request.SetHeader(key, fmt.Sprint(value))
		}
	}

	if body, ok := params["body"]; ok && body != nil {
		request.SetBody(body)
	}

	switch {
	case secrets["token"] != "":
		request.SetAuthToken(secrets["token"])
	case secrets["username"] != "":
		request.SetBasicAuth(secrets["username"], secrets["password"])
	case secrets["api_key"] != "":
		header := secrets["header"]
		if header == "" {
			header = "X-API-Key"
		}

		request.SetHeader(header, secrets["api_key"])
	}

	resp, err := request.Execute(method, target)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", method, target, err)
	}

	if err := checkResponse(h.Type(), resp); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":  resp.StatusCode(),
		"headers": flattenHeaders(resp.Header()),
		"data":    DecodeBody(resp.Body()),
	}, nil
}

func flattenHeaders(header http.Header) map[string]any {
	out := make(map[string]any, len(header))
	for key, values := range header {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	return out
}
