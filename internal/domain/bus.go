package domain

import "context"

// Pipeline topics.
const (
	TopicTransactionIngested  = "heron.transaction.ingested"
	TopicTransactionMonitored = "heron.transaction.monitored"
	TopicAlertRaised          = "heron.alert.raised"
)

// IngestedEvent is the payload published on TopicTransactionIngested.
type IngestedEvent struct {
	TransactionID string `json:"transactionId"`
}

// Message is the envelope every bus implementation carries. Metadata holds
// the W3C trace context and request-reply routing.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// MessageHandler consumes one message. A returned error is logged by the
// bus; the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// EventBus moves pipeline events between the API and the monitor workers,
// either in-process over channels or across processes over NATS.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and blocks until one subscriber replies or ctx ends.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	Type string `mapstructure:"type"` // "channel" or "nats"

	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds

	// NATSQueue puts every subscriber in one queue group so each event is
	// handled by a single worker process.
	NATSQueue string `mapstructure:"nats_queue"`
}
