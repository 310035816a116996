package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/opsdesk/stepflow/pkg/channels/gochannel"
	"github.com/opsdesk/stepflow/pkg/channels/kafka"
	"github.com/opsdesk/stepflow/pkg/eventbus"
)

const serviceName = "stepflow"

// NewEventBus builds the lifecycle event bus. gochannel keeps events in
// process; kafka publishes them to the given brokers.
func NewEventBus(logger *slog.Logger, provider, brokers string) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, kafka.ParseBrokers(brokers), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
