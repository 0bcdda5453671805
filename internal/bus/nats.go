package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/heron/internal/domain"
)

const (
	defaultNATSMaxReconnects = 10
	defaultNATSReconnectWait = 5 // seconds
	natsReconnectBuffer      = 8 * 1024 * 1024
	defaultRequestTimeout    = 30 * time.Second
)

// NATSBus implements EventBus on NATS core subjects, one subject per topic.
// It lets the API and the workers run as separate processes.
type NATSBus struct {
	conn   *nats.Conn
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl. An unreachable server is retried in
// the background rather than failing startup.
func NewNATSBus(cfg domain.EventBusConfig, logger *slog.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := cfg.NATSMaxReconnects
	if maxReconnects == 0 {
		maxReconnects = defaultNATSMaxReconnects
	}
	waitSecs := cfg.NATSReconnectWait
	if waitSecs == 0 {
		waitSecs = defaultNATSReconnectWait
	}

	opts := []nats.Option{
		nats.Name("heron"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(time.Duration(waitSecs) * time.Second),
		nats.ReconnectBufSize(natsReconnectBuffer),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			logger.Info("connected", "url", nc.ConnectedUrl(), "server_id", nc.ConnectedServerId())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	return &NATSBus{
		conn:   conn,
		queue:  cfg.NATSQueue,
		logger: logger,
		subs:   make(map[string]*natsSubscription),
	}, nil
}

// Publish sends an enveloped message on the topic's subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := json.Marshal(newMessage(ctx, topic, payload))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.conn.Publish(topic, data)
}

// Subscribe registers a handler for a topic. With a queue group configured,
// each message reaches only one subscriber of the group.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	cb := func(m *nats.Msg) {
		msg, err := decodeMessage(m.Data)
		if err != nil {
			b.logger.Error("dropping undecodable message", "subject", m.Subject, "error", err)
			return
		}

		reply, err := handlerReply(handlerContext(ctx, msg), handler, msg)
		if err != nil {
			b.logger.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
			return
		}
		if m.Reply == "" || reply == nil {
			return
		}
		if err := m.Respond(reply); err != nil {
			b.logger.Error("failed to respond", "subject", m.Subject, "error", err)
		}
	}

	var (
		ns  *nats.Subscription
		err error
	)
	if b.queue != "" {
		ns, err = b.conn.QueueSubscribe(topic, b.queue, cb)
	} else {
		ns, err = b.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &natsSubscription{id: uuid.New().String(), topic: topic, sub: ns, bus: b}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

// handlerReply runs the handler and returns the enveloped reply it left in
// the message metadata, if any.
func handlerReply(ctx context.Context, handler domain.MessageHandler, msg *domain.Message) ([]byte, error) {
	if err := handler(ctx, msg); err != nil {
		return nil, err
	}
	payload, ok := msg.Metadata[replyKey]
	if !ok {
		return nil, nil
	}
	return json.Marshal(newMessage(ctx, msg.Topic+".reply", []byte(payload)))
}

func decodeMessage(data []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	return &msg, nil
}

// Request publishes on topic and waits for one reply through a NATS inbox.
// Without a context deadline it waits at most 30 seconds.
func (b *NATSBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(newMessage(ctx, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	reply, err := b.conn.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", topic, err)
	}

	msg, err := decodeMessage(reply.Data)
	if err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return msg.Payload, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains in-flight messages and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
