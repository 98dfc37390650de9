// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates a test Workflow with default values that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		Name:        "Test Workflow",
		Description: "workflow used in tests",
		Owner:       "user-" + uuid.NewString(),
		Settings:    models.DefaultWorkflowSettings(),
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithOwner sets the workflow owner.
func WithOwner(owner string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Owner = owner
	}
}

// WithSettings sets the workflow execution settings.
func WithSettings(settings models.WorkflowSettings) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Settings = settings
	}
}

// CreateTestStep creates a test StepDefinition. The default is a zero-millisecond delay step.
func CreateTestStep(overrides ...func(*models.StepDefinition)) *models.StepDefinition {
	step := &models.StepDefinition{
		ID:     "step-" + uuid.NewString()[:8],
		Name:   "Test Step",
		Type:   models.StepTypeDelay,
		Config: map[string]any{"milliseconds": 0},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithStepID sets the step ID and, unless already customised, its name.
func WithStepID(id string) func(*models.StepDefinition) {
	return func(s *models.StepDefinition) {
		s.ID = id
		if s.Name == "Test Step" {
			s.Name = id
		}
	}
}

// WithStepType sets the step type and configuration.
func WithStepType(stepType models.StepType, config map[string]any) func(*models.StepDefinition) {
	return func(s *models.StepDefinition) {
		s.Type = stepType
		s.Config = config
	}
}

// WithPosition sets the step position.
func WithPosition(position int) func(*models.StepDefinition) {
	return func(s *models.StepDefinition) {
		s.Position = position
	}
}

// CreateTestVersion creates an unsaved version of workflowID holding steps.
func CreateTestVersion(workflowID string, steps ...*models.StepDefinition) *models.WorkflowVersion {
	return &models.WorkflowVersion{
		WorkflowID: workflowID,
		Steps:      steps,
	}
}

// CreateTestExecution creates a pending execution of the given version.
func CreateTestExecution(version *models.WorkflowVersion, input map[string]any) *models.Execution {
	if input == nil {
		input = map[string]any{}
	}

	return &models.Execution{
		WorkflowID:        version.WorkflowID,
		WorkflowVersionID: version.ID,
		Status:            models.ExecutionStatusPending,
		Input:             input,
	}
}
