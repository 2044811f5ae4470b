package bus

import (
	"fmt"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// New creates an event bus from configuration.
// "channel" is the embedded in-process bus; "nats" and "kafka" connect
// to external brokers for distributed deployments.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
