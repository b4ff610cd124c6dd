// Package pubsub provides the broker abstraction behind the event bus.
// It is what lets a message posted on one Threadwell instance reach push
// connections held by every other instance.
package pubsub

import (
	"context"
)

// Message is one broker delivery.
type Message struct {
	// Topic is the topic the message was published to.
	Topic string `json:"topic"`

	// Payload is the message content.
	Payload []byte `json:"payload"`
}

// PubSub is the interface for broker backends.
// Implementations must be safe for concurrent use. Delivery is best-effort:
// the broker may drop messages under backpressure or outage, and the
// authoritative state always lives in the database, never here.
type PubSub interface {
	// Publish sends a message to all subscribers of a topic, fleet-wide.
	// Messages published to the same topic arrive at a given subscriber in
	// publish order.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe returns a channel receiving messages published to the topic.
	// The channel is closed when ctx is cancelled or the backend is closed.
	// Each call creates an independent subscription.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)

	// Close releases all resources and closes all subscriptions.
	Close() error
}

// DropCounter is implemented by backends that count messages discarded
// because a subscriber's buffer was full or already closed. A rising count
// means local consumers are not keeping up with broker traffic.
type DropCounter interface {
	Dropped() uint64
}
