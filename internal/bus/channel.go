package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

const defaultChannelBuffer = 1000

// ChannelBus is an in-process EventBus. Each subscription owns a buffered
// channel drained by one goroutine, so a subscriber sees its messages in
// publish order.
type ChannelBus struct {
	buffer  int
	logger  *slog.Logger
	dropped atomic.Uint64

	mu     sync.RWMutex
	topics map[string][]*channelSubscription
	closed bool
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscriptions buffer up to buffer
// messages each. A nil logger uses slog.Default().
func NewChannelBus(buffer int, logger *slog.Logger) *ChannelBus {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelBus{
		buffer: buffer,
		logger: logger.With("component", "channel_bus"),
		topics: make(map[string][]*channelSubscription),
	}
}

// Publish fans the message out to the topic's subscribers without
// blocking. A subscriber with a full buffer misses it; see Dropped.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.deliver(newMessage(ctx, topic, payload))
}

func (b *ChannelBus) deliver(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.topics[msg.Topic] {
		select {
		case <-sub.ctx.Done():
		case sub.inbox <- cloneMessage(msg):
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, message dropped",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"subscription_id", sub.id,
			)
		}
	}
	return nil
}

// Dropped counts messages lost to full subscriber buffers.
func (b *ChannelBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe starts a goroutine that feeds the topic's messages to handler
// until ctx ends or the subscription is removed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.buffer),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}
	b.topics[topic] = append(b.topics[topic], sub)

	go sub.loop()
	return sub, nil
}

func (s *channelSubscription) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			s.handle(msg)
		}
	}
}

func (s *channelSubscription) handle(msg *domain.Message) {
	if err := s.handler(handlerContext(s.ctx, msg), msg); err != nil {
		s.bus.logger.Error("handler error", "topic", s.topic, "message_id", msg.ID, "error", err)
		return
	}

	to := msg.Metadata[replyToKey]
	reply, answered := msg.Metadata[replyKey]
	if to == "" || !answered {
		return
	}
	if err := s.bus.deliver(newMessage(s.ctx, to, []byte(reply))); err != nil {
		s.bus.logger.Debug("reply not delivered", "topic", to, "error", err)
	}
}

// Request publishes on topic with a private reply topic in the metadata and
// waits for the first answer. Without a context deadline it waits at most
// 30 seconds.
func (b *ChannelBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	replies := make(chan []byte, 1)
	replyTopic := fmt.Sprintf("%s.reply.%s", topic, uuid.New())
	sub, err := b.Subscribe(ctx, replyTopic, func(_ context.Context, msg *domain.Message) error {
		select {
		case replies <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(ctx, topic, payload)
	msg.Metadata[replyToKey] = replyTopic
	if err := b.deliver(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s: %w", topic, ctx.Err())
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels every subscription. Later calls are no-ops.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	clear(b.topics)
	return nil
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	rest := slices.DeleteFunc(b.topics[s.topic], func(o *channelSubscription) bool { return o == s })
	if len(rest) == 0 {
		delete(b.topics, s.topic)
	} else {
		b.topics[s.topic] = rest
	}
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
