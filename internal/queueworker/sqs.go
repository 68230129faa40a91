package queueworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// s3EventRecord mirrors the subset of the AWS S3 event notification shape
// this router consumes.
type s3EventRecord struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

type s3EventBody struct {
	Records []s3EventRecord `json:"Records"`
}

// SQSNotificationQueue is the production NotificationQueue backend.
type SQSNotificationQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSNotificationQueue(ctx context.Context, region, queueURL string) (*SQSNotificationQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("queueworker: load aws config: %w", err)
	}
	return &SQSNotificationQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func (q *SQSNotificationQueue) Receive(ctx context.Context) (*Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return nil, fmt.Errorf("queueworker: sqs receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	var body s3EventBody
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &body); err != nil || len(body.Records) == 0 {
		// Not a recognizable S3 event envelope; surface as an unknown kind
		// so the loop logs and continues rather than dropping silently.
		return &Message{Kind: "Unknown", Handle: aws.ToString(raw.ReceiptHandle)}, nil
	}

	rec := body.Records[0]
	return &Message{
		Kind: "S3Event",
		Notification: Notification{
			Bucket:    rec.S3.Bucket.Name,
			Key:       rec.S3.Object.Key,
			EventTime: rec.EventTime,
			EventName: rec.EventName,
		},
		Handle: aws.ToString(raw.ReceiptHandle),
	}, nil
}

func (q *SQSNotificationQueue) Delete(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("queueworker: sqs delete: %w", err)
	}
	return nil
}

// SQSStartQueue is the production StartQueue backend.
type SQSStartQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSStartQueue(ctx context.Context, region, queueURL string) (*SQSStartQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("queueworker: load aws config: %w", err)
	}
	return &SQSStartQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func (q *SQSStartQueue) Enqueue(ctx context.Context, msg StartMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queueworker: marshal start message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("queueworker: sqs send: %w", err)
	}
	return nil
}

// SQSStartSource is the production StartSource backend, the consuming side
// of the same queue SQSStartQueue produces to.
type SQSStartSource struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSStartSource(ctx context.Context, region, queueURL string) (*SQSStartSource, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("queueworker: load aws config: %w", err)
	}
	return &SQSStartSource{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func (q *SQSStartSource) Receive(ctx context.Context) (*StartMessage, string, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return nil, "", fmt.Errorf("queueworker: sqs receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, "", nil
	}

	raw := out.Messages[0]
	var msg StartMessage
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
		return nil, "", fmt.Errorf("queueworker: unmarshal start message: %w", err)
	}
	return &msg, aws.ToString(raw.ReceiptHandle), nil
}

func (q *SQSStartSource) Delete(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("queueworker: sqs delete: %w", err)
	}
	return nil
}

var _ StartSource = (*SQSStartSource)(nil)
