// Package cmd holds constructors shared by the binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/pulse/pkg/channels/gochannel"
	"github.com/dukex/pulse/pkg/channels/kafka"
	"github.com/dukex/pulse/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus for provider. The "none"
// provider returns a nil bus: actors then skip publishing.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "none":
		return nil, nil
	case "memory":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, brokers, "pulse")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
