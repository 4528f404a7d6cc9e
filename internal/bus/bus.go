// Package bus defines the publish/subscribe contract shared by producers
// (controls, actions) and consumers (the action dispatcher, external services).
//
// Publish is fire-and-forget: there is no delivery confirmation and publishing
// to a topic nobody subscribes to is a silent no-op. Subscriptions yield
// messages in publish order per topic and block until a message arrives, the
// subscription is cancelled, or the context is done.
package bus

import (
	"context"
	"errors"
)

// DefaultTopic is the channel used when a component names no topic.
const DefaultTopic = "pinbus"

var (
	// ErrUnsubscribed is returned by Next after Unsubscribe.
	ErrUnsubscribed = errors.New("bus: unsubscribed")

	// ErrNoTopics is returned by Subscribe when called without topics.
	ErrNoTopics = errors.New("bus: no topics to subscribe")

	// ErrInvalidTopic is returned when publishing to an empty topic.
	ErrInvalidTopic = errors.New("bus: topic cannot be empty")
)

// Transport carries messages between producers and consumers.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Publish sends payload to topic. Transport failures are returned to the
	// caller; the absence of subscribers is not a failure.
	Publish(topic string, payload []byte) error

	// Subscribe starts receiving messages on topics. Topic filters may use
	// MQTT wildcards (+ and #).
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}

// Subscription is a lazy, unbounded sequence of inbound messages.
type Subscription interface {
	// Next blocks until a message arrives. It returns ErrUnsubscribed once
	// Unsubscribe has been called, or ctx.Err() if ctx is done first.
	Next(ctx context.Context) (Message, error)

	// Unsubscribe stops delivery and interrupts a blocked Next.
	// Calling it more than once is safe.
	Unsubscribe() error
}

// Message is one inbound payload.
type Message struct {
	Topic string
	Data  []byte
}
