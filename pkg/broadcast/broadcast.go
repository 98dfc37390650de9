// Package broadcast delivers execution lifecycle events to observers.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/stepflow/pkg/events"
)

// Message is one lifecycle event as seen by an observer.
type Message struct {
	ExecutionID string           `json:"executionId"`
	Event       events.Lifecycle `json:"event"`
	Payload     map[string]any   `json:"payload"`
}

// Sink receives lifecycle events from the executor.
type Sink interface {
	Emit(ctx context.Context, executionID string, event events.Lifecycle, payload map[string]any) error
}

// Subscriber streams the events of one execution until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, executionID string) (<-chan Message, func(), error)
}

// Payload returns a copy of fields with the server timestamp and execution id set.
func Payload(executionID string, fields map[string]any) map[string]any {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}

	payload[events.PayloadTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	payload[events.PayloadExecutionID] = executionID

	return payload
}

// Multi emits to every sink. A failing sink does not stop the others.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, executionID string, event events.Lifecycle, payload map[string]any) error {
	var errs []error

	for _, sink := range m {
		if sink == nil {
			continue
		}

		if err := sink.Emit(ctx, executionID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, string, events.Lifecycle, map[string]any) error { return nil }
