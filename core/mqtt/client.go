package mqtt

import "context"

// Publisher sends a payload to a topic. Implementations must honour the
// context deadline.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler receives the payload of a message published on topic.
type Handler func(topic string, payload []byte)

// Subscriber registers handlers for topic filters. Subscriptions survive
// reconnects.
type Subscriber interface {
	Subscribe(topic string, h Handler) error
}

// Client is a connected publisher and subscriber.
type Client interface {
	Publisher
	Subscriber
	IsConnected() bool
}
