package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	sqsMaxMessages     = 10
	sqsWaitTimeSeconds = 20
	sqsDeleteTimeout   = 5 * time.Second
	sqsRetrySleep      = 2 * time.Second
)

// SQSAPI is the subset of the SQS client the backend needs, kept as an
// interface so tests can substitute a fake.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SQS implements Transport directly against an SQS queue URL. Every
// actor gets its own queue; the actor name in the route maps 1:1 to a
// queue name resolved via GetQueueUrl.
type SQS struct {
	client   SQSAPI
	queueURL string
}

// NewSQS dials SQS using the default AWS config chain (or a custom
// endpoint when Endpoint is non-empty, for local/minio-style testing).
func NewSQS(ctx context.Context, queueURL, endpoint, region string) (*SQS, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("transport: loading AWS config: %w", err)
	}

	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &SQS{client: client, queueURL: queueURL}, nil
}

// NewSQSWithClient is used by tests to inject a fake SQSAPI.
func NewSQSWithClient(client SQSAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

func (s *SQS) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go s.pollLoop(ctx, out)
	return out, nil
}

func (s *SQS) pollLoop(ctx context.Context, out chan<- Delivery) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}

		resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: sqsMaxMessages,
			WaitTimeSeconds:     sqsWaitTimeSeconds,
			VisibilityTimeout:   30,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case <-time.After(sqsRetrySleep):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range resp.Messages {
			m := msg
			delivery := Delivery{
				Body: []byte(aws.ToString(m.Body)),
				Ack: func(ackCtx context.Context) error {
					return s.deleteMessage(ackCtx, m)
				},
				Nack: func(context.Context) error {
					// Let the visibility timeout lapse; SQS redelivers.
					return nil
				},
			}
			select {
			case out <- delivery:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *SQS) deleteMessage(ctx context.Context, msg sqstypes.Message) error {
	deleteCtx, cancel := context.WithTimeout(ctx, sqsDeleteTimeout)
	defer cancel()
	_, err := s.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}

func (s *SQS) Publish(ctx context.Context, actor string, body []byte) error {
	queueURL, err := s.resolveQueueURL(ctx, actor)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}

// resolveQueueURL maps an actor name to its queue URL with a
// GetQueueUrl call on every publish; the consumer's own queueURL is not
// reused, even when actor names that queue.
func (s *SQS) resolveQueueURL(ctx context.Context, actor string) (string, error) {
	resp, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(actor)})
	if err != nil {
		return "", fmt.Errorf("transport: resolving queue for actor %q: %w", actor, err)
	}
	return aws.ToString(resp.QueueUrl), nil
}

func (s *SQS) Close() error { return nil }
