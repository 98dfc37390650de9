package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
)

const defaultChannelBuffer = 64

type subscription struct {
	executionID string
	ch          chan Message
}

// Hub fans events out to in-process subscribers keyed by execution id. Slow subscribers lose
// events once their buffer is full; publishers never block.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	seq  atomic.Uint64
}

var (
	_ Sink       = (*Hub)(nil)
	_ Subscriber = (*Hub)(nil)
)

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscription)}
}

func (h *Hub) Emit(ctx context.Context, executionID string, event events.Lifecycle, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Message{ExecutionID: executionID, Event: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.executionID != executionID {
			continue
		}

		select {
		case sub.ch <- msg:
		default:
		}
	}

	return nil
}

func (h *Hub) Subscribe(ctx context.Context, executionID string) (<-chan Message, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan Message, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscription{executionID: executionID, ch: ch}
	h.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel, nil
}

// HandleExecutionEvent is an event bus handler that replays lifecycle events published by
// remote workers into the hub.
func (h *Hub) HandleExecutionEvent(ctx context.Context, event any) error {
	return eventbus.Typed(nil, func(ctx context.Context, e *events.ExecutionEvent) error {
		return h.Emit(ctx, e.ExecutionID, e.Name, e.Payload)
	})(ctx, event)
}
