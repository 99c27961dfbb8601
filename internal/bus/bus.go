package bus

import (
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

const subscriptionBuffer = 128

type Subscription chan any

// MessageBus decouples the websocket client from the consumers of its
// side-channel events (status lines, notifications, rendering).
type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

type Bus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		ps:     pubsub.New(subscriptionBuffer),
		logger: logger,
	}
}

func (b *Bus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

// Subscribe returns a channel receiving every message published to any of
// the given topics. The channel stays open until Unsubscribe or Close.
func (b *Bus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)
	return ch
}

func (b *Bus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		return
	}
	b.ps.Unsub(ch, topics...)
}

func (b *Bus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
