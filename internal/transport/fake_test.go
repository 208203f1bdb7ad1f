package transport

import (
	"context"
	"testing"
	"time"
)

func TestFakeDeliverAndAck(t *testing.T) {
	hub := NewFakeHub()
	f := hub.ForActor("worker")

	ch, err := f.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	f.Deliver([]byte("hello"))
	delivery := <-ch
	if string(delivery.Body) != "hello" {
		t.Fatalf("unexpected body: %s", delivery.Body)
	}
	if err := delivery.Ack(context.Background()); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(f.Acked) != 1 || string(f.Acked[0]) != "hello" {
		t.Fatalf("expected ack to be recorded, got %v", f.Acked)
	}
}

func TestFakeNack(t *testing.T) {
	f := NewFakeHub().ForActor("worker")
	ch, _ := f.Consume(context.Background())
	f.Deliver([]byte("retry-me"))
	delivery := <-ch
	if err := delivery.Nack(context.Background()); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if len(f.Nacked) != 1 || string(f.Nacked[0]) != "retry-me" {
		t.Fatalf("expected nack to be recorded, got %v", f.Nacked)
	}
}

func TestFakeHubSharesQueuesAcrossActors(t *testing.T) {
	hub := NewFakeHub()
	producer := hub.ForActor("producer")
	consumer := hub.ForActor("consumer")

	if err := producer.Publish(context.Background(), "consumer", []byte("payload-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	published := consumer.Published("consumer")
	if len(published) != 1 || string(published[0]) != "payload-1" {
		t.Fatalf("expected shared queue to see published message, got %v", published)
	}
}

func TestFakeConsumeClosesChannelDoesNotPanicOnCancel(t *testing.T) {
	f := NewFakeHub().ForActor("worker")
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected the delivery channel to be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the delivery channel to close")
	}
}
