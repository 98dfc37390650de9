package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix prefixes the Redis Pub/Sub channel of every execution.
const DefaultChannelPrefix = "stepflow:executions:"

// RedisSink publishes lifecycle events on a per-execution Redis channel.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSink(client redis.UniversalClient) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("broadcast: redis client is required")
	}

	return &RedisSink{client: client, prefix: DefaultChannelPrefix}, nil
}

// Channel returns the Pub/Sub channel for the execution id.
func (s *RedisSink) Channel(executionID string) string {
	return s.prefix + executionID
}

func (s *RedisSink) Emit(ctx context.Context, executionID string, event events.Lifecycle, payload map[string]any) error {
	data, err := json.Marshal(Message{ExecutionID: executionID, Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("broadcast: marshal message: %w", err)
	}

	if err := s.client.Publish(ctx, s.Channel(executionID), data).Err(); err != nil {
		return fmt.Errorf("broadcast: publish %s: %w", event, err)
	}

	return nil
}

// RedisSubscriber streams events published by RedisSink in any process.
type RedisSubscriber struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

func NewRedisSubscriber(client redis.UniversalClient, logger *slog.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, prefix: DefaultChannelPrefix, logger: logger}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, executionID string) (<-chan Message, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.prefix+executionID)

	// wait for the subscription confirmation so no event published afterwards is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return nil, nil, fmt.Errorf("broadcast: subscribe: %w", err)
	}

	incoming := pubsub.Channel()
	out := make(chan Message, defaultChannelBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)

		for {
			select {
			case <-done:
				return
			case raw, ok := <-incoming:
				if !ok {
					return
				}

				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					s.logger.WarnContext(ctx, "skipping malformed broadcast message",
						"execution_id", executionID, "error", err)

					continue
				}

				select {
				case out <- msg:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	return out, cancel, nil
}
