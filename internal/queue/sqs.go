package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/jmoiron/sqlx"

	"github.com/corridorpay/corridor/internal/logger"
)

// SQSQueue is the SQS-backed queue driver. Retry accounting rides on
// SQS redelivery: a failed attempt extends message visibility by the
// backoff delay, and ApproximateReceiveCount tracks attempts.
type SQSQueue struct {
	svc  *sqs.SQS
	urls map[string]string // kind -> queue URL
}

// NewSQS creates an SQS queue client
func NewSQS(region, endpoint, paymentQueueURL, webhookQueueURL string) (*SQSQueue, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	svc := sqs.New(sess)

	// Override endpoint for local testing
	if endpoint != "" {
		svc.Endpoint = endpoint
	}

	return &SQSQueue{
		svc: svc,
		urls: map[string]string{
			KindPaymentProcessing: paymentQueueURL,
			KindWebhookDelivery:   webhookQueueURL,
		},
	}, nil
}

func (q *SQSQueue) queueURL(kind string) (string, error) {
	url, ok := q.urls[kind]
	if !ok || url == "" {
		return "", fmt.Errorf("no queue URL configured for kind %q", kind)
	}
	return url, nil
}

// Enqueue sends a message visible immediately
func (q *SQSQueue) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	url, err := q.queueURL(kind)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	_, err = q.svc.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	return nil
}

// EnqueueTx falls back to a plain enqueue; SQS cannot join a database
// transaction, which the workers tolerate by being idempotent.
func (q *SQSQueue) EnqueueTx(ctx context.Context, _ *sqlx.Tx, kind string, payload interface{}) error {
	return q.Enqueue(ctx, kind, payload)
}

// Dequeue claims the next message of the kind
func (q *SQSQueue) Dequeue(ctx context.Context, kind string) (*Job, error) {
	url, err := q.queueURL(kind)
	if err != nil {
		return nil, err
	}

	out, err := q.svc.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: aws.Int64(1),
		WaitTimeSeconds:     aws.Int64(5),
		AttributeNames:      []*string{aws.String(sqs.MessageSystemAttributeNameApproximateReceiveCount)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive %s job: %w", kind, err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	attempts := 0
	if raw, ok := msg.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount]; ok && raw != nil {
		if count, perr := strconv.Atoi(*raw); perr == nil && count > 0 {
			attempts = count - 1
		}
	}

	policy := Policies[kind]
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 3
	}

	return &Job{
		Kind:          kind,
		Payload:       json.RawMessage(aws.StringValue(msg.Body)),
		Attempts:      attempts,
		MaxAttempts:   policy.MaxAttempts,
		receiptHandle: aws.StringValue(msg.ReceiptHandle),
	}, nil
}

// Complete deletes the message
func (q *SQSQueue) Complete(ctx context.Context, job *Job) error {
	url, err := q.queueURL(job.Kind)
	if err != nil {
		return err
	}

	_, err = q.svc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(job.receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete job message: %w", err)
	}
	return nil
}

// Fail either drops an exhausted message or delays its redelivery by
// the backoff for the attempt.
func (q *SQSQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	url, err := q.queueURL(job.Kind)
	if err != nil {
		return err
	}

	attempt := job.Attempts + 1
	if attempt >= job.MaxAttempts {
		logger.Warn("Job attempts exhausted", logger.Fields{
			"kind":     job.Kind,
			"attempts": attempt,
			"error":    fmt.Sprint(jobErr),
		})
		_, err = q.svc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(url),
			ReceiptHandle: aws.String(job.receiptHandle),
		})
		if err != nil {
			return fmt.Errorf("failed to drop exhausted job: %w", err)
		}
		return nil
	}

	delay := int64(Backoff(job.Kind, attempt).Seconds())
	if delay < 1 {
		delay = 1
	}
	_, err = q.svc.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(job.receiptHandle),
		VisibilityTimeout: aws.Int64(delay),
	})
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}
