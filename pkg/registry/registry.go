// Package registry holds the step runners known to an engine instance and turns open step
// configuration into validated, typed configuration.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrConfiguration is returned when a step's configuration cannot be used.
	ErrConfiguration = errors.New("invalid step configuration")
	// ErrRunnerNotFound is returned for step types without a registered runner.
	ErrRunnerNotFound = errors.New("no runner registered for step type")
)

// Registry is a dispatch table from step type to runner. It is built once at startup and
// is safe for concurrent reads afterwards.
type Registry struct {
	logger   *slog.Logger
	runners  map[models.StepType]protocol.Runner
	validate *validator.Validate
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log.With("module", "registry"),
		runners:  make(map[models.StepType]protocol.Runner),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register binds runner to its step type, replacing any earlier runner.
func (r *Registry) Register(runner protocol.Runner) {
	r.runners[runner.Type()] = runner

	r.logger.Debug("registered runner", "step_type", runner.Type(), "name", runner.Name())
}

// Runner returns the runner for stepType.
func (r *Registry) Runner(stepType models.StepType) (protocol.Runner, error) {
	runner, ok := r.runners[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunnerNotFound, stepType)
	}

	return runner, nil
}

// Types returns the registered step types in lexical order.
func (r *Registry) Types() []models.StepType {
	types := make([]models.StepType, 0, len(r.runners))
	for stepType := range r.runners {
		types = append(types, stepType)
	}

	slices.Sort(types)

	return types
}

// Runners returns the registered runners ordered by step type.
func (r *Registry) Runners() []protocol.Runner {
	runners := make([]protocol.Runner, 0, len(r.runners))
	for _, stepType := range r.Types() {
		runners = append(runners, r.runners[stepType])
	}

	return runners
}

// BuildConfig checks step.Config against the runner's JSON schema, decodes it into the
// typed configuration and validates the result. Every failure wraps ErrConfiguration.
func (r *Registry) BuildConfig(step *models.StepDefinition) (models.StepConfig, error) {
	runner, err := r.Runner(step.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: step %s: %w", ErrConfiguration, step.ID, err)
	}

	raw := step.Config
	if raw == nil {
		raw = map[string]any{}
	}

	if err := validateSchema(runner.Schema(), raw); err != nil {
		return nil, fmt.Errorf("%w: step %s: %w", ErrConfiguration, step.ID, err)
	}

	config, err := models.DecodeStepConfig(step.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: step %s: %w", ErrConfiguration, step.ID, err)
	}

	if err := r.validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: step %s: %w", ErrConfiguration, step.ID, err)
	}

	return config, nil
}

// ValidateSteps checks a whole step list: unique ids and names, known types and valid
// configuration for each step.
func (r *Registry) ValidateSteps(steps []*models.StepDefinition) error {
	ids := make(map[string]struct{}, len(steps))
	names := make(map[string]struct{}, len(steps))

	var errs []error

	for _, step := range steps {
		if step == nil {
			continue
		}

		if err := r.validate.Struct(step); err != nil {
			errs = append(errs, fmt.Errorf("%w: step %q: %w", ErrConfiguration, step.ID, err))

			continue
		}

		if _, dup := ids[step.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate step id %q", ErrConfiguration, step.ID))
		}

		if _, dup := names[step.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate step name %q", ErrConfiguration, step.Name))
		}

		ids[step.ID] = struct{}{}
		names[step.Name] = struct{}{}

		if _, err := r.BuildConfig(step); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateSchema(schema map[string]any, data map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("schema check failed: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("JSON schema validation failed: %s", strings.Join(messages, "; "))
	}

	return nil
}
