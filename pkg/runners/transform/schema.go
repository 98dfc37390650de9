package transform

// Schema returns the JSON schema for transform step configuration.
func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"code"},
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "JavaScript body returning the new value, or an expr / jq expression",
				"examples": []string{
					"return {total: input.items.length};",
					"[.items[] | select(.active)]",
				},
			},
			"language": map[string]any{
				"type":    "string",
				"enum":    []string{LanguageJavaScript, LanguageExpr, LanguageJQ},
				"default": LanguageJavaScript,
			},
			"inputMapping": map[string]any{
				"description": "Value bound as input. Defaults to all accumulated variables",
			},
			"outputMapping": map[string]any{
				"description": "Template applied to {output, input} after the transform",
			},
			"timeoutMs": map[string]any{
				"type":    "number",
				"minimum": 0,
				"default": 5000,
			},
		},
	}
}
