package models

import "sort"

// StepType identifies the runner bound to a step.
type StepType string

const (
	StepTypeHTTPRequest  StepType = "http_request"
	StepTypeTransform    StepType = "transform"
	StepTypeConditional  StepType = "conditional"
	StepTypeLoop         StepType = "loop"
	StepTypeDelay        StepType = "delay"
	StepTypeErrorHandler StepType = "error_handler"
	StepTypeFallback     StepType = "fallback"
	StepTypeCustomCode   StepType = "custom_code"
	StepTypeConnector    StepType = "connector"
)

// StepTypes lists every known step type.
func StepTypes() []StepType {
	return []StepType{
		StepTypeHTTPRequest,
		StepTypeTransform,
		StepTypeConditional,
		StepTypeLoop,
		StepTypeDelay,
		StepTypeErrorHandler,
		StepTypeFallback,
		StepTypeCustomCode,
		StepTypeConnector,
	}
}

// IsValid reports whether t is one of the known step types.
func (t StepType) IsValid() bool {
	for _, known := range StepTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// StepDefinition is one typed unit of work within a workflow version.
//
// NextSteps and ErrorHandler are branching metadata for graph-aware consumers; the linear
// executor walks steps by Position and does not follow them.
type StepDefinition struct {
	ID           string         `json:"id"                     validate:"required"`
	Name         string         `json:"name"                   validate:"required"`
	Type         StepType       `json:"type"                   validate:"required"`
	Config       map[string]any `json:"config"`
	Position     int            `json:"position"`
	NextSteps    []string       `json:"nextSteps,omitempty"`
	ErrorHandler *string        `json:"errorHandler,omitempty"`
}

// SortSteps returns a copy of steps ordered by position.
func SortSteps(steps []*StepDefinition) []*StepDefinition {
	ordered := make([]*StepDefinition, 0, len(steps))
	for _, step := range steps {
		if step != nil {
			ordered = append(ordered, step)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	return ordered
}
