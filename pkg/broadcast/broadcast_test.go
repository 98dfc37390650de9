package broadcast_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func receive(t *testing.T, ch <-chan broadcast.Message) broadcast.Message {
	t.Helper()

	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")

		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")

		return broadcast.Message{}
	}
}

func TestPayload_AddsTimestampAndExecutionID(t *testing.T) {
	fields := map[string]any{"stepId": "fetch"}

	payload := broadcast.Payload("exec-1", fields)

	assert.Equal(t, "exec-1", payload[events.PayloadExecutionID])
	assert.NotEmpty(t, payload[events.PayloadTimestamp])
	assert.Equal(t, "fetch", payload["stepId"])
	assert.NotContains(t, fields, events.PayloadTimestamp)
}

func TestHub_DeliversOnlyMatchingExecution(t *testing.T) {
	ctx := context.Background()
	hub := broadcast.NewHub()

	ch, cancel, err := hub.Subscribe(ctx, "exec-1")
	require.NoError(t, err)

	defer cancel()

	require.NoError(t, hub.Emit(ctx, "exec-2", events.Started, nil))
	require.NoError(t, hub.Emit(ctx, "exec-1", events.Completed, map[string]any{"ok": true}))

	msg := receive(t, ch)
	assert.Equal(t, events.Completed, msg.Event)
	assert.Equal(t, true, msg.Payload["ok"])

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	hub := broadcast.NewHub()

	_, cancel, err := hub.Subscribe(ctx, "exec-1")
	require.NoError(t, err)

	defer cancel()

	done := make(chan struct{})

	go func() {
		for range 500 {
			_ = hub.Emit(ctx, "exec-1", events.StepStarted, nil)
		}

		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}
}

type failingSink struct{}

func (failingSink) Emit(context.Context, string, events.Lifecycle, map[string]any) error {
	return errors.New("sink down")
}

func TestMulti_EmitsToAllAndJoinsErrors(t *testing.T) {
	ctx := context.Background()
	hub := broadcast.NewHub()

	ch, cancel, err := hub.Subscribe(ctx, "exec-1")
	require.NoError(t, err)

	defer cancel()

	err = broadcast.Multi{failingSink{}, nil, hub}.Emit(ctx, "exec-1", events.Failed, nil)
	require.ErrorContains(t, err, "sink down")

	assert.Equal(t, events.Failed, receive(t, ch).Event)
}

func TestRedisSinkAndSubscriber(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	sink, err := broadcast.NewRedisSink(client)
	require.NoError(t, err)
	assert.Equal(t, "stepflow:executions:exec-1", sink.Channel("exec-1"))

	subscriber := broadcast.NewRedisSubscriber(client, testLogger())

	ch, cancel, err := subscriber.Subscribe(ctx, "exec-1")
	require.NoError(t, err)

	defer cancel()

	require.NoError(t, sink.Emit(ctx, "exec-1", events.StepCompleted, broadcast.Payload("exec-1", map[string]any{"stepId": "fetch"})))

	msg := receive(t, ch)
	assert.Equal(t, "exec-1", msg.ExecutionID)
	assert.Equal(t, events.StepCompleted, msg.Event)
	assert.Equal(t, "fetch", msg.Payload["stepId"])
}

func TestNewRedisSink_RequiresClient(t *testing.T) {
	_, err := broadcast.NewRedisSink(nil)
	require.Error(t, err)
}

func TestBusSink_RelaysIntoHub(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, testLogger())
	defer bus.Close()

	hub := broadcast.NewHub()
	require.NoError(t, bus.Handle(events.ExecutionLifecycleEvent, hub.HandleExecutionEvent))
	require.NoError(t, bus.Subscribe(ctx))

	ch, cancel, err := hub.Subscribe(ctx, "exec-9")
	require.NoError(t, err)

	defer cancel()

	sink := broadcast.NewBusSink(bus)
	require.NoError(t, sink.Emit(ctx, "exec-9", events.Started, map[string]any{"workflowId": "wf-1"}))

	msg := receive(t, ch)
	assert.Equal(t, events.Started, msg.Event)
	assert.Equal(t, "wf-1", msg.Payload["workflowId"])
}
