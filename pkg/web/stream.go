package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// StreamExecution serves the execution's lifecycle events as server-sent events. The stream
// ends after a terminal event. An execution that already finished gets a single event with
// its final state.
func (h *APIHandlers) StreamExecution(c fiber.Ctx) error {
	if h.subscriber == nil {
		return internalError(c, fmt.Errorf("event streaming is not configured"))
	}

	id := c.Params("id")

	// The stream outlives the handler, so it cannot use the request context.
	ctx, cancel := context.WithCancel(context.Background())

	messages, unsubscribe, err := h.subscriber.Subscribe(ctx, id)
	if err != nil {
		cancel()

		return internalError(c, err)
	}

	// Subscribing first means no event between this read and the subscription is lost.
	execution, err := h.executionService.Get(c.Context(), id)
	if err != nil {
		unsubscribe()
		cancel()

		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	reader, writer := io.Pipe()

	go func() {
		defer cancel()
		defer unsubscribe()

		err := h.pump(ctx, writer, execution, messages)
		_ = writer.CloseWithError(err)
	}()

	return c.SendStream(reader)
}

func (h *APIHandlers) pump(ctx context.Context, w io.Writer, execution *models.Execution, messages <-chan broadcast.Message) error {
	if execution.Status.IsTerminal() {
		return writeEvent(w, broadcast.Message{
			ExecutionID: execution.ID,
			Event:       events.Lifecycle(execution.Status),
			Payload: broadcast.Payload(execution.ID, map[string]any{
				"status": execution.Status,
				"output": execution.Output,
				"error":  execution.Error,
			}),
		})
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A failed write means the client went away.
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			if err := writeEvent(w, msg); err != nil {
				return err
			}

			if msg.Event.IsTerminal() {
				return nil
			}
		}
	}
}

func writeEvent(w io.Writer, msg broadcast.Message) error {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)

	return err
}
