package models

// MetadataOwnerID is the execution metadata key carrying the workflow owner. Connector steps
// decrypt credentials on the owner's behalf.
const MetadataOwnerID = "ownerId"

// ExecutionContext is the mutable working set of one execution. It is never persisted; its
// Variables snapshot becomes the execution output.
type ExecutionContext struct {
	ExecutionID string         `json:"executionId"`
	WorkflowID  string         `json:"workflowId"`
	VersionID   string         `json:"versionId"`
	Input       map[string]any `json:"input"`
	Variables   map[string]any `json:"variables"`
	Metadata    map[string]any `json:"metadata"`
}

// NewExecutionContext creates a context with empty variables and metadata.
func NewExecutionContext(executionID, workflowID, versionID string, input map[string]any) *ExecutionContext {
	if input == nil {
		input = make(map[string]any)
	}

	return &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		VersionID:   versionID,
		Input:       input,
		Variables:   make(map[string]any),
		Metadata:    make(map[string]any),
	}
}

// Scope returns the names visible to interpolation and condition evaluation.
func (c *ExecutionContext) Scope() map[string]any {
	return map[string]any{
		"input":     c.Input,
		"variables": c.Variables,
		"metadata":  c.Metadata,
		"execution": map[string]any{
			"id":         c.ExecutionID,
			"workflowId": c.WorkflowID,
			"versionId":  c.VersionID,
		},
	}
}

// SetVariable binds a step's output under its name.
func (c *ExecutionContext) SetVariable(name string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}

	c.Variables[name] = value
}

// OwnerID returns the workflow owner recorded in Metadata.
func (c *ExecutionContext) OwnerID() string {
	owner, _ := c.Metadata[MetadataOwnerID].(string)

	return owner
}
