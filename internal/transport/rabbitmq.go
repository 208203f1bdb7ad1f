package transport

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ implements Transport over a topic exchange, routing
// messages by actor name. Every actor declares a queue bound to its
// own name as the routing key, so publishing to an actor is a plain
// topic-exchange publish with that routing key.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
}

// NewRabbitMQ dials url, declares the topic exchange, and declares and
// binds the queue for actorName (the actor this sidecar consumes for).
func NewRabbitMQ(url, exchange, actorName string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: opening channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("transport: declaring exchange %q: %w", exchange, err)
	}

	if actorName != "" {
		if _, err := channel.QueueDeclare(actorName, true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("transport: declaring queue %q: %w", actorName, err)
		}
		if err := channel.QueueBind(actorName, actorName, exchange, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("transport: binding queue %q: %w", actorName, err)
		}
	}

	return &RabbitMQ{conn: conn, channel: channel, exchange: exchange, queue: actorName}, nil
}

func (r *RabbitMQ) Consume(ctx context.Context) (<-chan Delivery, error) {
	if r.queue == "" {
		return nil, fmt.Errorf("transport: rabbitmq consumer has no bound queue")
	}

	deliveries, err := r.channel.ConsumeWithContext(ctx, r.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: consuming from %q: %w", r.queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := d
				body := make([]byte, len(delivery.Body))
				copy(body, delivery.Body)
				out <- Delivery{
					Body: body,
					Ack: func(context.Context) error {
						return delivery.Ack(false)
					},
					Nack: func(context.Context) error {
						return delivery.Nack(false, true)
					},
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, actor string, body []byte) error {
	return r.channel.PublishWithContext(ctx, r.exchange, actor, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// WaitForConsumers polls queue.consumer_count on each required queue
// until all have at least one consumer, grounded on the original test
// suite's wait_for_rabbitmq_consumers helper used to know actor
// sidecars have started before a scenario begins.
func WaitForConsumers(ctx context.Context, url string, queues []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ready, err := consumersReady(url, queues)
		if err == nil && ready {
			return nil
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("transport: rabbitmq consumers not ready after %s", timeout)
}

func consumersReady(url string, queues []string) (bool, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		return false, err
	}
	defer channel.Close()

	for _, q := range queues {
		inspected, err := channel.QueueInspect(q)
		if err != nil {
			return false, err
		}
		if inspected.Consumers == 0 {
			return false, nil
		}
	}
	return true, nil
}
