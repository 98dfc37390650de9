// Package protocol defines the contract between the executor and pluggable step runners.
package protocol

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
)

// Runner executes one step type. Expected failures are reported through the returned
// StepResult; Run must not modify execCtx.
type Runner interface {
	// Type returns the step type this runner is bound to.
	Type() models.StepType

	// Name returns the human-readable name for this runner.
	Name() string

	// Description returns a description of what this runner does.
	Description() string

	// Schema returns the JSON schema of the step's raw configuration.
	Schema() map[string]any

	// Run executes the step.
	Run(ctx context.Context, config models.StepConfig, execCtx *models.ExecutionContext) models.StepResult
}

// ConfigAs asserts that config holds the typed configuration *T.
func ConfigAs[T any](config models.StepConfig) (*T, error) {
	typed, ok := any(config).(*T)
	if !ok || typed == nil {
		var zero T

		return nil, fmt.Errorf("invalid configuration: expected %T, got %T", &zero, config)
	}

	return typed, nil
}
