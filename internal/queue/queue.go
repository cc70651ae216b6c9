package queue

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

// Job kinds
const (
	KindPaymentProcessing = "payment-processing"
	KindWebhookDelivery   = "webhook-delivery"
)

// Policy controls retry behavior for a job kind.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// Policies maps each job kind to its retry policy.
var Policies = map[string]Policy{
	KindPaymentProcessing: {MaxAttempts: 3, BackoffBase: 1 * time.Second},
	KindWebhookDelivery:   {MaxAttempts: 3, BackoffBase: 2 * time.Second},
}

// Job is one unit of work pulled from the queue.
type Job struct {
	ID          int64           `db:"id"`
	Kind        string          `db:"kind"`
	Payload     json.RawMessage `db:"payload"`
	Attempts    int             `db:"attempts"`
	MaxAttempts int             `db:"max_attempts"`

	// receiptHandle is set by the SQS driver only.
	receiptHandle string
}

// Queue is a durable FIFO job queue with at-least-once delivery.
type Queue interface {
	// Enqueue adds a job visible immediately.
	Enqueue(ctx context.Context, kind string, payload interface{}) error
	// EnqueueTx adds a job inside an open database transaction so the
	// enqueue commits atomically with the caller's writes. Drivers
	// without transactional support fall back to Enqueue.
	EnqueueTx(ctx context.Context, tx *sqlx.Tx, kind string, payload interface{}) error
	// Dequeue claims the next ready job of the kind, or returns nil
	// when none is ready.
	Dequeue(ctx context.Context, kind string) (*Job, error)
	// Complete acknowledges a successfully processed job.
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed attempt, rescheduling with backoff until
	// attempts are exhausted.
	Fail(ctx context.Context, job *Job, jobErr error) error
}

// Backoff returns the delay before retry attempt n (1-based) for the
// kind: base * 2^(n-1).
func Backoff(kind string, attempt int) time.Duration {
	policy, ok := Policies[kind]
	if !ok {
		policy = Policy{MaxAttempts: 3, BackoffBase: time.Second}
	}
	if attempt < 1 {
		attempt = 1
	}
	return policy.BackoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
}
