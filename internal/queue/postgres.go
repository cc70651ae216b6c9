package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/corridorpay/corridor/internal/logger"
)

// runningLease is the visibility timeout for claimed jobs. A running
// job not touched within the lease is assumed to belong to a dead
// worker and is returned to the queue.
const runningLease = 2 * time.Minute

// PostgresQueue stores jobs in a database table. Dequeue uses
// FOR UPDATE SKIP LOCKED so multiple workers can consume concurrently
// without double-claiming.
type PostgresQueue struct {
	db *sqlx.DB
}

// NewPostgres creates a Postgres-backed queue
func NewPostgres(db *sqlx.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Enqueue adds a job visible immediately
func (q *PostgresQueue) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return q.insert(ctx, q.db, kind, raw)
}

// EnqueueTx adds a job inside the caller's transaction
func (q *PostgresQueue) EnqueueTx(ctx context.Context, tx *sqlx.Tx, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return q.insert(ctx, tx, kind, raw)
}

func (q *PostgresQueue) insert(ctx context.Context, ext sqlx.ExtContext, kind string, payload []byte) error {
	policy := Policies[kind]
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 3
	}

	_, err := ext.ExecContext(ctx, `
		INSERT INTO jobs (kind, payload, status, attempts, max_attempts, run_at)
		VALUES ($1, $2, 'queued', 0, $3, now())`,
		kind, payload, policy.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	return nil
}

// Dequeue claims the oldest ready job of the kind. Orphaned running
// jobs whose lease expired are requeued first so a worker crash never
// strands a claimed job.
func (q *PostgresQueue) Dequeue(ctx context.Context, kind string) (*Job, error) {
	if err := q.reclaim(ctx, kind); err != nil {
		logger.Warn("Failed to reclaim expired jobs", logger.Fields{
			"kind":  kind,
			"error": err.Error(),
		})
	}

	var job Job
	err := q.db.QueryRowxContext(ctx, `
		UPDATE jobs SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE kind = $1 AND status = 'queued' AND run_at <= now()
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, kind, payload, attempts, max_attempts`,
		kind).StructScan(&job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue %s job: %w", kind, err)
	}
	return &job, nil
}

// reclaim returns running jobs with an expired lease to the queue.
func (q *PostgresQueue) reclaim(ctx context.Context, kind string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', updated_at = now()
		WHERE kind = $1 AND status = 'running' AND updated_at < now() - ($2 * interval '1 second')`,
		kind, int64(runningLease/time.Second))
	if err != nil {
		return fmt.Errorf("failed to reclaim running jobs: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logger.Warn("Requeued jobs from expired leases", logger.Fields{
			"kind":  kind,
			"count": n,
		})
	}
	return nil
}

// Complete marks the job done
func (q *PostgresQueue) Complete(ctx context.Context, job *Job) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', updated_at = now() WHERE id = $1`, job.ID)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", job.ID, err)
	}
	return nil
}

// Fail records a failed attempt. The job is rescheduled with
// exponential backoff until attempts are exhausted, then marked dead.
func (q *PostgresQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	attempt := job.Attempts + 1
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}

	if attempt >= job.MaxAttempts {
		_, err := q.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'dead', attempts = $2, last_error = $3, updated_at = now()
			WHERE id = $1`,
			job.ID, attempt, msg)
		if err != nil {
			return fmt.Errorf("failed to dead-letter job %d: %w", job.ID, err)
		}
		logger.Warn("Job attempts exhausted", logger.Fields{
			"job_id":   job.ID,
			"kind":     job.Kind,
			"attempts": attempt,
			"error":    msg,
		})
		return nil
	}

	delay := Backoff(job.Kind, attempt)
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', attempts = $2, last_error = $3,
			run_at = now() + ($4 * interval '1 millisecond'), updated_at = now()
		WHERE id = $1`,
		job.ID, attempt, msg, delay.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to reschedule job %d: %w", job.ID, err)
	}

	logger.Info("Job rescheduled after failure", logger.Fields{
		"job_id":   job.ID,
		"kind":     job.Kind,
		"attempts": attempt,
		"delay_ms": delay.Milliseconds(),
	})
	return nil
}
