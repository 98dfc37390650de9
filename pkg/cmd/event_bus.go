// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/channels/kafka"
	"github.com/dukex/stepflow/pkg/eventbus"
)

const (
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"
)

// NewEventBus creates the queue. gochannel only connects components of the same process;
// kafka consumers share the group of serviceName.
func NewEventBus(provider, brokers, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case EventBusKafka:
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case EventBusGoChannel, "":
		pub, sub, err := gochannel.CreatePersistentChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
