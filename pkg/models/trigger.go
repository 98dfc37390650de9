package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType is the kind of event source that starts a workflow run.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
)

// ErrInvalidSchedule is returned when a schedule trigger carries an unusable cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Trigger binds an event source to a workflow.
type Trigger struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflowId"          validate:"required"`
	Type       TriggerType `json:"type"                validate:"required,oneof=manual webhook schedule"`
	Schedule   string      `json:"schedule,omitempty"  validate:"required_if=Type schedule"`
	Enabled    bool        `json:"enabled"`
	// InputSchema optionally constrains webhook payloads (JSON schema).
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	NextDueAt   *time.Time     `json:"nextDueAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a standard 5-field cron expression or a descriptor such as "@hourly".
func ParseSchedule(expression string) (cron.Schedule, error) {
	if expression == "" {
		return nil, ErrInvalidSchedule
	}

	schedule, err := scheduleParser.Parse(expression)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	return schedule, nil
}

// UpdateNextDueAt recomputes NextDueAt from the given reference time.
func (t *Trigger) UpdateNextDueAt(reference time.Time) error {
	if t.Type != TriggerTypeSchedule {
		return nil
	}

	schedule, err := ParseSchedule(t.Schedule)
	if err != nil {
		return err
	}

	next := schedule.Next(reference)
	t.NextDueAt = &next

	return nil
}
