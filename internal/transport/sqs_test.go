package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// fakeSQSAPI is an in-memory stand-in for the SQS client, exercising
// SQS's polling, delete-on-ack, and queue-resolution logic without a
// network call.
type fakeSQSAPI struct {
	mu       sync.Mutex
	messages []sqstypes.Message
	deleted  []string
	sent     []string
	queueURLs map[string]string
}

func newFakeSQSAPI() *fakeSQSAPI {
	return &fakeSQSAPI{queueURLs: map[string]string{"next-actor": "https://sqs/next-actor"}}
}

func (f *fakeSQSAPI) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQSAPI) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQSAPI) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQSAPI) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.queueURLs[aws.ToString(params.QueueName)]
	if !ok {
		url = "https://sqs/" + aws.ToString(params.QueueName)
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(url)}, nil
}

func TestSQSConsumeDeliversAndAcksDeleteMessage(t *testing.T) {
	fake := newFakeSQSAPI()
	fake.messages = []sqstypes.Message{
		{Body: aws.String("hello"), ReceiptHandle: aws.String("receipt-1")},
	}
	transport := NewSQSWithClient(fake, "https://sqs/worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := transport.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	select {
	case d := <-deliveries:
		if string(d.Body) != "hello" {
			t.Fatalf("unexpected body: %s", d.Body)
		}
		if err := d.Ack(ctx); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	fake.mu.Lock()
	deleted := append([]string(nil), fake.deleted...)
	fake.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "receipt-1" {
		t.Fatalf("expected ack to delete the message, got %v", deleted)
	}
}

func TestSQSPublishResolvesQueueURLAndSends(t *testing.T) {
	fake := newFakeSQSAPI()
	transport := NewSQSWithClient(fake, "https://sqs/worker")

	if err := transport.Publish(context.Background(), "next-actor", []byte("payload")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	fake.mu.Lock()
	sent := append([]string(nil), fake.sent...)
	fake.mu.Unlock()
	if len(sent) != 1 || sent[0] != "payload" {
		t.Fatalf("expected message to be sent, got %v", sent)
	}
}

func TestSQSNackIsNoopLettingVisibilityTimeoutLapse(t *testing.T) {
	fake := newFakeSQSAPI()
	fake.messages = []sqstypes.Message{{Body: aws.String("x"), ReceiptHandle: aws.String("r1")}}
	transport := NewSQSWithClient(fake, "https://sqs/worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, _ := transport.Consume(ctx)
	d := <-deliveries
	if err := d.Nack(ctx); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.deleted) != 0 {
		t.Fatal("did not expect nack to delete the message")
	}
}
