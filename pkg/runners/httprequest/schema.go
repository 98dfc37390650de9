package httprequest

// Schema returns the JSON schema for http_request step configuration.
func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Request URL. Supports {{placeholders}}",
				"examples": []string{
					"https://api.example.com/users",
					"https://{{variables.config.host}}/orders/{{input.orderId}}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers. Values support placeholders",
			},
			"query": map[string]any{
				"type":        "object",
				"description": "Query string parameters. Values support placeholders",
			},
			"body": map[string]any{
				"description": "Request body. Objects are sent as JSON",
			},
			"timeoutMs": map[string]any{
				"type":        "number",
				"description": "Request timeout in milliseconds",
				"default":     30000,
				"minimum":     0,
			},
		},
	}
}
