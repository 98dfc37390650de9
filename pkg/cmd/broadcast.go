package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL; an empty URL returns nil.
func NewRedisClient(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil //nolint:nilnil // redis is optional
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewSink fans executor events out to the event bus and, when configured, Redis.
func NewSink(bus eventbus.EventPublisher, client redis.UniversalClient) (broadcast.Sink, error) {
	sinks := broadcast.Multi{}

	if bus != nil {
		sinks = append(sinks, broadcast.NewBusSink(bus))
	}

	if client != nil {
		redisSink, err := broadcast.NewRedisSink(client)
		if err != nil {
			return nil, err
		}

		sinks = append(sinks, redisSink)
	}

	return sinks, nil
}

// NewSubscriber returns the stream source for the API. Redis is preferred; without it a hub
// is fed from the lifecycle topic of the event bus.
func NewSubscriber(bus eventbus.EventSubscriber, client redis.UniversalClient, logger *slog.Logger) (broadcast.Subscriber, *broadcast.Hub, error) {
	if client != nil {
		return broadcast.NewRedisSubscriber(client, logger), nil, nil
	}

	hub := broadcast.NewHub()

	err := bus.Handle(events.ExecutionLifecycleEvent, hub.HandleExecutionEvent)
	if err != nil {
		return nil, nil, err
	}

	return hub, hub, nil
}
