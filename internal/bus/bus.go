// Package bus carries monitoring events between the API and workers.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/heron/internal/domain"
)

// New creates the event bus selected by cfg.Type: "channel" runs in
// process, "nats" lets API and worker processes run apart.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize, slog.Default()), nil
	case "nats":
		return NewNATSBus(cfg, slog.Default())
	default:
		return nil, fmt.Errorf("%w: unsupported event bus type: %s", domain.ErrConfiguration, cfg.Type)
	}
}

// Metadata keys for request-reply. A handler answers a request by setting
// replyKey on the message it received.
const (
	replyKey   = "reply"
	replyToKey = "reply_to"
)

// newMessage wraps a payload in a message envelope. The trace context of
// ctx travels in the metadata.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	return msg
}

// handlerContext continues the publisher's trace in the handler.
func handlerContext(ctx context.Context, msg *domain.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

func cloneMessage(msg *domain.Message) *domain.Message {
	c := *msg
	c.Metadata = maps.Clone(msg.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	return &c
}
