// Package events defines the queue payloads and execution lifecycle events exchanged over the
// event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const (
	DispatchTopic  = "stepflow.dispatch"   // trigger fired, execution not created yet
	ExecutionTopic = "stepflow.executions" // execution created, waiting for a worker
	LifecycleTopic = "stepflow.events"     // execution progress for observers
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	DispatchRequestedEvent  EventType = "dispatch.requested"
	ExecutionRequestedEvent EventType = "execution.requested"
	ExecutionLifecycleEvent EventType = "execution.lifecycle"
)

// Topic returns the topic events of this type are published on.
func (t EventType) Topic() string {
	switch t {
	case DispatchRequestedEvent:
		return DispatchTopic
	case ExecutionRequestedEvent:
		return ExecutionTopic
	case ExecutionLifecycleEvent:
		return LifecycleTopic
	default:
		return LifecycleTopic
	}
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflowId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// DispatchRequested asks for a new execution of the workflow's active version.
type DispatchRequested struct {
	BaseEvent

	TriggerID string         `json:"triggerId,omitempty"`
	Input     map[string]any `json:"input"`
}

func (d DispatchRequested) GetType() EventType {
	return DispatchRequestedEvent
}

// ExecutionRequested asks a worker to run a pending execution.
type ExecutionRequested struct {
	BaseEvent

	ExecutionID string `json:"executionId"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

// ExecutionEvent carries one lifecycle event of an execution.
type ExecutionEvent struct {
	BaseEvent

	ExecutionID string         `json:"executionId"`
	Name        Lifecycle      `json:"event"`
	Payload     map[string]any `json:"payload"`
}

func (e ExecutionEvent) GetType() EventType {
	return ExecutionLifecycleEvent
}
