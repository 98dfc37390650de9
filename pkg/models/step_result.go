package models

// MetadataRetryable is the StepResult metadata key a runner sets to false when a failure
// must not be retried.
const MetadataRetryable = "retryable"

// StepResult is the uniform outcome of a runner. Output is meaningful when Success is true,
// Error when it is false.
type StepResult struct {
	Success  bool           `json:"success"`
	Output   any            `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(output any, metadata map[string]any) StepResult {
	return StepResult{Success: true, Output: output, Metadata: metadata}
}

// Failed builds a failed result.
func Failed(message string, metadata map[string]any) StepResult {
	return StepResult{Success: false, Error: message, Metadata: metadata}
}

// NonRetryable builds a failed result that stops the retry policy immediately.
func NonRetryable(message string, metadata map[string]any) StepResult {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	metadata[MetadataRetryable] = false

	return Failed(message, metadata)
}

// IsRetryable reports whether a failed result may be attempted again.
func (r StepResult) IsRetryable() bool {
	if r.Success {
		return false
	}

	retryable, ok := r.Metadata[MetadataRetryable].(bool)

	return !ok || retryable
}
