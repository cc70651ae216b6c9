package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/models"
)

const deliveryColumns = `id, payment_id, event_type, payload, signature, status, attempts,
	max_attempts, last_attempt_at, next_retry_at, response_status, response_body,
	created_at, updated_at`

// DeliveryStore persists webhook delivery outcomes. Rows are created
// by PaymentStore transitions; this store only reads and updates them.
type DeliveryStore struct {
	db *sqlx.DB
}

// NewDeliveryStore creates a webhook delivery store
func NewDeliveryStore(db *sqlx.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

// Get retrieves a delivery record by id
func (s *DeliveryStore) Get(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	err := s.db.GetContext(ctx, &d,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound("WebhookDelivery", id)
	}
	if err != nil {
		return nil, errors.ErrInternalServer("failed to load webhook delivery", err)
	}
	return &d, nil
}

// MarkDelivered records a successful delivery attempt.
func (s *DeliveryStore) MarkDelivered(ctx context.Context, id string, responseStatus int, responseBody string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = attempts + 1, last_attempt_at = now(),
			next_retry_at = NULL, response_status = $3, response_body = $4, updated_at = now()
		WHERE id = $1`,
		id, models.DeliveryDelivered, responseStatus, responseBody)
	if err != nil {
		return errors.ErrInternalServer("failed to mark delivery delivered", err)
	}
	return nil
}

// MarkFailed records a failed attempt. When exhausted the record moves
// to its final EXHAUSTED status, otherwise it stays retryable with the
// next retry instant set.
func (s *DeliveryStore) MarkFailed(ctx context.Context, id string, responseStatus *int, responseBody *string, nextRetryAt *time.Time, exhausted bool) error {
	status := models.DeliveryFailed
	if exhausted {
		status = models.DeliveryExhausted
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = attempts + 1, last_attempt_at = now(),
			next_retry_at = $3, response_status = $4, response_body = $5, updated_at = now()
		WHERE id = $1`,
		id, status, nextRetryAt, responseStatus, responseBody)
	if err != nil {
		return errors.ErrInternalServer("failed to mark delivery failed", err)
	}
	return nil
}
