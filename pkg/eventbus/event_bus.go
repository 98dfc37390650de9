// Package eventbus provides the job queue and event fan-out between the API, the dispatcher and
// the execution workers.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a decoded event pointer. Returning an error nacks the message so the
// broker redelivers it.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Typed adapts a handler written for one event type. Any other event is logged and
// acknowledged, since redelivering it cannot succeed. A nil logger uses slog.Default.
func Typed[T any](logger *slog.Logger, handle func(ctx context.Context, event *T) error) EventHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, event any) error {
		typed, ok := event.(*T)
		if !ok {
			logger.ErrorContext(ctx, "Dropping event of unexpected type",
				"expected", fmt.Sprintf("%T", typed),
				"received", fmt.Sprintf("%T", event),
			)

			return nil
		}

		return handle(ctx, typed)
	}
}
