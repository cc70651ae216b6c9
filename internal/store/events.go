package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/models"
)

const eventColumns = `id, payment_id, event_type, status, metadata, timestamp`

// EventStore reads the append-only event log. Events are only ever
// written through PaymentStore transitions.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore creates an event store
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

// ListByPayment returns all events for a payment, oldest first.
func (s *EventStore) ListByPayment(ctx context.Context, paymentID string) ([]models.Event, error) {
	var events []models.Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM events WHERE payment_id = $1 ORDER BY timestamp, id`,
		paymentID)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to list events", err)
	}
	return events, nil
}

// ListByPaymentSince returns events for a payment strictly after the
// high-water mark, oldest first.
func (s *EventStore) ListByPaymentSince(ctx context.Context, paymentID string, after time.Time) ([]models.Event, error) {
	var events []models.Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM events WHERE payment_id = $1 AND timestamp > $2 ORDER BY timestamp, id`,
		paymentID, after)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to list events", err)
	}
	return events, nil
}

// ListRecentByPayments returns all events across the payments, newest
// first. Used for the initial burst of a per-user stream.
func (s *EventStore) ListRecentByPayments(ctx context.Context, paymentIDs []string) ([]models.Event, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	var events []models.Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM events WHERE payment_id = ANY($1) ORDER BY timestamp DESC, id DESC`,
		pq.Array(paymentIDs))
	if err != nil {
		return nil, errors.ErrInternalServer("failed to list events", err)
	}
	return events, nil
}

// ListByPaymentsSince returns events across the payments strictly
// after the high-water mark, in chronological order.
func (s *EventStore) ListByPaymentsSince(ctx context.Context, paymentIDs []string, after time.Time) ([]models.Event, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	var events []models.Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM events WHERE payment_id = ANY($1) AND timestamp > $2 ORDER BY timestamp, id`,
		pq.Array(paymentIDs), after)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to list events", err)
	}
	return events, nil
}
