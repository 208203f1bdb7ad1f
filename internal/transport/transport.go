// Package transport abstracts the per-hop message broker so the
// sidecar can run unmodified against RabbitMQ or SQS. Both backends
// give the same application-level guarantees: at-least-once delivery,
// explicit acknowledgement, and routing keyed by actor name.
package transport

import "context"

// Delivery is a single inbound message along with the means to settle
// it once the sidecar has made forward progress.
type Delivery struct {
	Body []byte

	// Ack marks the message as successfully processed and safe to
	// discard. Nack returns it to the queue (or lets its visibility
	// timeout lapse) so another consumer can retry it.
	Ack  func(ctx context.Context) error
	Nack func(ctx context.Context) error
}

// Consumer receives deliveries addressed to a single actor.
type Consumer interface {
	// Consume returns the channel of inbound deliveries for this
	// actor. The channel is closed when ctx is canceled or the
	// underlying connection is torn down.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Publisher sends an envelope body to the queue/routing-key associated
// with the named actor.
type Publisher interface {
	Publish(ctx context.Context, actor string, body []byte) error
	Close() error
}

// Transport is a connected backend capable of both roles. A sidecar
// typically consumes for its own actor and publishes to the actors
// named by an envelope's route.
type Transport interface {
	Consumer
	Publisher
}
