package models

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// ErrUnknownStepType is returned when a step declares a type with no config shape.
var ErrUnknownStepType = errors.New("unknown step type")

// StepConfig is the typed configuration of one step. Each step type has exactly one
// implementation.
type StepConfig interface {
	StepType() StepType
}

// HTTPRequestConfig configures an http_request step.
type HTTPRequestConfig struct {
	URL       string         `json:"url"                 mapstructure:"url"       validate:"required"`
	Method    string         `json:"method,omitempty"    mapstructure:"method"    validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS get post put patch delete head options"`
	Headers   map[string]any `json:"headers,omitempty"   mapstructure:"headers"`
	Query     map[string]any `json:"query,omitempty"     mapstructure:"query"`
	Body      any            `json:"body,omitempty"      mapstructure:"body"`
	TimeoutMs int64          `json:"timeoutMs,omitempty" mapstructure:"timeoutMs" validate:"gte=0"`
}

func (HTTPRequestConfig) StepType() StepType { return StepTypeHTTPRequest }

// TransformConfig configures a transform step.
type TransformConfig struct {
	Code          string `json:"code"                    mapstructure:"code"          validate:"required"`
	Language      string `json:"language,omitempty"      mapstructure:"language"      validate:"omitempty,oneof=javascript expr jq"`
	InputMapping  any    `json:"inputMapping,omitempty"  mapstructure:"inputMapping"`
	OutputMapping any    `json:"outputMapping,omitempty" mapstructure:"outputMapping"`
	TimeoutMs     int64  `json:"timeoutMs,omitempty"     mapstructure:"timeoutMs"     validate:"gte=0"`
}

func (TransformConfig) StepType() StepType { return StepTypeTransform }

// ConditionalConfig configures a conditional step. Language selects the expression dialect.
type ConditionalConfig struct {
	Condition  string   `json:"condition"            mapstructure:"condition"  validate:"required"`
	TrueSteps  []string `json:"trueSteps,omitempty"  mapstructure:"trueSteps"`
	FalseSteps []string `json:"falseSteps,omitempty" mapstructure:"falseSteps"`
	Language   string   `json:"language,omitempty"   mapstructure:"language"   validate:"omitempty,oneof=expr cel"`
}

func (ConditionalConfig) StepType() StepType { return StepTypeConditional }

// LoopConfig configures a loop step. Items is usually a "{{path}}" placeholder.
type LoopConfig struct {
	Items         any    `json:"items"                   mapstructure:"items"         validate:"required"`
	MaxIterations int    `json:"maxIterations,omitempty" mapstructure:"maxIterations" validate:"gte=0"`
	StepID        string `json:"stepId,omitempty"        mapstructure:"stepId"`
	Parallel      bool   `json:"parallel,omitempty"      mapstructure:"parallel"`
}

func (LoopConfig) StepType() StepType { return StepTypeLoop }

// DelayConfig configures a delay step. Range checks belong to the runner.
type DelayConfig struct {
	Milliseconds int64 `json:"milliseconds" mapstructure:"milliseconds"`
}

func (DelayConfig) StepType() StepType { return StepTypeDelay }

// CustomCodeConfig configures a custom_code step.
type CustomCodeConfig struct {
	Language  string `json:"language"            mapstructure:"language"  validate:"required,oneof=javascript python"`
	Code      string `json:"code"                mapstructure:"code"      validate:"required"`
	TimeoutMs int64  `json:"timeoutMs,omitempty" mapstructure:"timeoutMs" validate:"gte=0"`
}

func (CustomCodeConfig) StepType() StepType { return StepTypeCustomCode }

// ConnectorConfig configures a connector step.
type ConnectorConfig struct {
	Connector    string         `json:"connector"              mapstructure:"connector"    validate:"required"`
	Action       string         `json:"action"                 mapstructure:"action"       validate:"required"`
	CredentialID string         `json:"credentialId,omitempty" mapstructure:"credentialId"`
	Params       map[string]any `json:"params,omitempty"       mapstructure:"params"`
}

func (ConnectorConfig) StepType() StepType { return StepTypeConnector }

// PassthroughConfig configures error_handler and fallback steps.
type PassthroughConfig struct {
	Kind    StepType `json:"-"                 mapstructure:"-"`
	Value   any      `json:"value,omitempty"   mapstructure:"value"`
	Message string   `json:"message,omitempty" mapstructure:"message"`
}

func (c PassthroughConfig) StepType() StepType {
	if c.Kind == "" {
		return StepTypeFallback
	}

	return c.Kind
}

// DecodeStepConfig decodes an open config map into the typed config for stepType.
func DecodeStepConfig(stepType StepType, raw map[string]any) (StepConfig, error) {
	switch stepType {
	case StepTypeHTTPRequest:
		return decodeInto[HTTPRequestConfig](raw)
	case StepTypeTransform:
		return decodeInto[TransformConfig](raw)
	case StepTypeConditional:
		return decodeInto[ConditionalConfig](raw)
	case StepTypeLoop:
		return decodeInto[LoopConfig](raw)
	case StepTypeDelay:
		return decodeInto[DelayConfig](raw)
	case StepTypeCustomCode:
		return decodeInto[CustomCodeConfig](raw)
	case StepTypeConnector:
		return decodeInto[ConnectorConfig](raw)
	case StepTypeErrorHandler, StepTypeFallback:
		cfg, err := decodeInto[PassthroughConfig](raw)
		if err != nil {
			return nil, err
		}

		passthrough, _ := cfg.(*PassthroughConfig)
		passthrough.Kind = stepType

		return passthrough, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}
}

func decodeInto[T any, PT interface {
	*T
	StepConfig
}](raw map[string]any) (StepConfig, error) {
	var cfg T

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if raw != nil {
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	return PT(&cfg), nil
}
