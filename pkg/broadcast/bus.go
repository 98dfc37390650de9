package broadcast

import (
	"context"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
)

// BusSink publishes lifecycle events on the event bus lifecycle topic, keyed by execution id.
type BusSink struct {
	publisher eventbus.EventPublisher
}

func NewBusSink(publisher eventbus.EventPublisher) *BusSink {
	return &BusSink{publisher: publisher}
}

func (s *BusSink) Emit(ctx context.Context, executionID string, event events.Lifecycle, payload map[string]any) error {
	workflowID, _ := payload["workflowId"].(string)

	return s.publisher.Publish(ctx, executionID, events.ExecutionEvent{
		BaseEvent:   events.NewBaseEvent(events.ExecutionLifecycleEvent, workflowID),
		ExecutionID: executionID,
		Name:        event,
		Payload:     payload,
	})
}
