package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// SQSClient is the subset of *sqs.SQS the queue uses.
type SQSClient interface {
	SendMessageWithContext(ctx aws.Context, input *sqs.SendMessageInput, opts ...request.Option) (*sqs.SendMessageOutput, error)
	ReceiveMessageWithContext(ctx aws.Context, input *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageWithContext(ctx aws.Context, input *sqs.DeleteMessageInput, opts ...request.Option) (*sqs.DeleteMessageOutput, error)
}

// SQS is a Queue backed by one SQS queue URL.
type SQS struct {
	client SQSClient
	url    string
}

func NewSQS(client SQSClient, url string) *SQS {
	return &SQS{client: client, url: url}
}

func (q *SQS) URL() string {
	return q.url
}

func (q *SQS) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", q.url, err)
	}
	return nil
}

// Receive long-polls for up to max messages. SQS caps max at 10 and wait at 20s.
func (q *SQS) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if max > 10 {
		max = 10
	}
	if wait > 20*time.Second {
		wait = 20 * time.Second
	}

	out, err := q.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: aws.Int64(int64(max)),
		WaitTimeSeconds:     aws.Int64(int64(wait / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", q.url, err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, msg := range out.Messages {
		deliveries = append(deliveries, Delivery{
			ID:            aws.StringValue(msg.MessageId),
			Body:          aws.StringValue(msg.Body),
			ReceiptHandle: aws.StringValue(msg.ReceiptHandle),
		})
	}
	return deliveries, nil
}

func (q *SQS) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", q.url, err)
	}
	return nil
}
