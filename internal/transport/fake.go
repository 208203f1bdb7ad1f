package transport

import (
	"context"
	"sync"
)

// Fake is an in-memory Transport used by sidecar and gateway tests.
// Publish to an actor appends to that actor's queue in the shared hub,
// where Published reads it back. Consume returns this Fake's own
// inbound channel, which only Deliver feeds; published messages are not
// delivered to consumers.
type Fake struct {
	mu     sync.Mutex
	queues map[string][][]byte
	actor  string
	ch     chan Delivery

	Acked  [][]byte
	Nacked [][]byte
}

// NewFakeHub creates a set of Fakes sharing the same underlying queues,
// one per actor, so a test can publish from one and consume from
// another the way real transports would.
type FakeHub struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func NewFakeHub() *FakeHub {
	return &FakeHub{queues: make(map[string][][]byte)}
}

func (h *FakeHub) ForActor(actor string) *Fake {
	return &Fake{queues: h.queues, actor: actor, ch: make(chan Delivery, 16)}
}

func (f *Fake) Consume(ctx context.Context) (<-chan Delivery, error) {
	go func() {
		<-ctx.Done()
		close(f.ch)
	}()
	return f.ch, nil
}

// Deliver pushes a message directly into this Fake's own inbound
// channel, bypassing the shared queue map, for tests that want precise
// control over delivery order.
func (f *Fake) Deliver(body []byte) {
	f.ch <- Delivery{
		Body: body,
		Ack: func(context.Context) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.Acked = append(f.Acked, body)
			return nil
		},
		Nack: func(context.Context) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.Nacked = append(f.Nacked, body)
			return nil
		},
	}
}

func (f *Fake) Publish(ctx context.Context, actor string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[actor] = append(f.queues[actor], body)
	return nil
}

// Published returns everything published to actor so far.
func (f *Fake) Published(actor string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.queues[actor]...)
}

func (f *Fake) Close() error { return nil }
