package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/models"
	"github.com/corridorpay/corridor/internal/queue"
	"github.com/corridorpay/corridor/internal/webhook"
)

const uniqueViolation = "23505"

const paymentColumns = `id, user_id, source_currency, dest_currency, amount, payment_method,
	fee_handling, onramp_fee, corridor_fee, platform_fee, network_gas_fee, total_fees,
	usdc_sent, exchange_rate, destination_amount, quote_id, quote_expires_at, status,
	onramp_tx_id, offramp_tx_id, error_message, created_at, updated_at, completed_at`

// PaymentStore persists payments and serialises their state
// transitions. Every status mutation writes the new status, the event
// row and, when webhook delivery is enabled, the webhook delivery +
// job, all in a single transaction.
type PaymentStore struct {
	db              *sqlx.DB
	queue           queue.Queue
	webhookSecret   string
	webhooksEnabled bool
}

// NewPaymentStore creates a payment store
func NewPaymentStore(db *sqlx.DB, q queue.Queue, webhookSecret string, webhooksEnabled bool) *PaymentStore {
	return &PaymentStore{db: db, queue: q, webhookSecret: webhookSecret, webhooksEnabled: webhooksEnabled}
}

// TransitionOpts carries optional writes that ride along with a status
// transition.
type TransitionOpts struct {
	OnrampTxID        *string
	OfframpTxID       *string
	ErrorMessage      *string
	Metadata          map[string]interface{}
	EnqueuePaymentJob bool
}

// Create inserts a new INITIATED payment together with its
// payment.initiated event and webhook job.
func (s *PaymentStore) Create(ctx context.Context, p *models.Payment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.ErrInternalServer("failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Status = models.StatusInitiated

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, source_currency, dest_currency, amount, payment_method,
			fee_handling, onramp_fee, corridor_fee, platform_fee, network_gas_fee, total_fees,
			usdc_sent, exchange_rate, destination_amount, quote_id, quote_expires_at, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.UserID, p.SourceCurrency, p.DestCurrency, p.Amount, p.PaymentMethod,
		p.FeeHandling, p.OnrampFee, p.CorridorFee, p.PlatformFee, p.NetworkGasFee, p.TotalFees,
		p.UsdcSent, p.ExchangeRate, p.DestinationAmount, p.QuoteID, p.QuoteExpiresAt, p.Status,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errors.New("DUPLICATE_PAYMENT", "A payment for this quote already exists", 409, err)
		}
		return errors.ErrInternalServer("failed to create payment", err)
	}

	if _, err := s.recordTransitionTx(ctx, tx, p, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.ErrInternalServer("failed to commit payment creation", err)
	}

	logger.Info("Payment created", logger.Fields{
		"payment_id": p.ID,
		"user_id":    p.UserID,
		"amount":     p.Amount.String(),
		"corridor":   p.DestCurrency,
	})
	return nil
}

// Get retrieves a payment by id
func (s *PaymentStore) Get(ctx context.Context, paymentID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound("Payment", paymentID)
	}
	if err != nil {
		return nil, errors.ErrInternalServer("failed to load payment", err)
	}
	return &p, nil
}

// ListIDsByUser returns the payment ids owned by a user, oldest first.
func (s *PaymentStore) ListIDsByUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM payments WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to list payments", err)
	}
	return ids, nil
}

// Transition moves a payment to a new status under a row lock. Illegal
// transitions are rejected without mutating anything. The returned
// payment reflects the post-transition row.
func (s *PaymentStore) Transition(ctx context.Context, paymentID string, to models.PaymentStatus, opts *TransitionOpts) (*models.Payment, error) {
	if opts == nil {
		opts = &TransitionOpts{}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var p models.Payment
	err = tx.GetContext(ctx, &p,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound("Payment", paymentID)
	}
	if err != nil {
		return nil, errors.ErrInternalServer("failed to lock payment", err)
	}

	if !models.CanTransition(p.Status, to) {
		return nil, errors.ErrInvalidStateTransition(string(p.Status), string(to))
	}

	now := time.Now().UTC()
	from := p.Status
	p.Status = to
	p.UpdatedAt = now
	if opts.OnrampTxID != nil {
		p.OnrampTxID = opts.OnrampTxID
	}
	if opts.OfframpTxID != nil {
		p.OfframpTxID = opts.OfframpTxID
	}
	if opts.ErrorMessage != nil {
		p.ErrorMessage = opts.ErrorMessage
	}
	if to.IsTerminal() {
		p.CompletedAt = &now
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $2, updated_at = $3, completed_at = $4,
			onramp_tx_id = $5, offramp_tx_id = $6, error_message = $7
		WHERE id = $1`,
		p.ID, p.Status, p.UpdatedAt, p.CompletedAt, p.OnrampTxID, p.OfframpTxID, p.ErrorMessage)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to update payment status", err)
	}

	event, err := s.recordTransitionTx(ctx, tx, &p, opts.Metadata)
	if err != nil {
		return nil, err
	}

	if opts.EnqueuePaymentJob {
		if err := s.queue.EnqueueTx(ctx, tx, queue.KindPaymentProcessing, models.PaymentJob{PaymentID: p.ID}); err != nil {
			return nil, errors.ErrInternalServer("failed to enqueue payment job", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.ErrInternalServer("failed to commit transition", err)
	}

	logger.Info("Payment status updated", logger.Fields{
		"payment_id": p.ID,
		"from":       from,
		"to":         to,
		"event_id":   event.ID,
	})
	return &p, nil
}

// recordTransitionTx appends the event for the payment's current
// status and freezes the webhook delivery + job, all on the open
// transaction.
func (s *PaymentStore) recordTransitionTx(ctx context.Context, tx *sqlx.Tx, p *models.Payment, metadata map[string]interface{}) (*models.Event, error) {
	var metaRaw json.RawMessage
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, errors.ErrInternalServer("failed to marshal event metadata", err)
		}
		metaRaw = raw
	}

	event := &models.Event{
		ID:        uuid.New().String(),
		PaymentID: p.ID,
		EventType: p.Status.EventType(),
		Status:    p.Status,
		Metadata:  metaRaw,
		Timestamp: p.UpdatedAt,
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, payment_id, event_type, status, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.PaymentID, event.EventType, event.Status, event.Metadata, event.Timestamp)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to append event", err)
	}

	// No delivery worker runs when webhooks are disabled; writing
	// delivery rows and jobs would only let them pile up.
	if !s.webhooksEnabled {
		return event, nil
	}

	envelope := webhook.BuildEnvelope(p, event)
	payload, err := envelope.Marshal()
	if err != nil {
		return nil, errors.ErrInternalServer("failed to build webhook payload", err)
	}

	deliveryID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, payment_id, event_type, payload, signature, status, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)`,
		deliveryID, p.ID, event.EventType, payload, webhook.Sign(s.webhookSecret, payload), 3)
	if err != nil {
		return nil, errors.ErrInternalServer("failed to create webhook delivery", err)
	}

	job := models.WebhookJob{DeliveryID: deliveryID, PaymentID: p.ID, EventType: event.EventType}
	if err := s.queue.EnqueueTx(ctx, tx, queue.KindWebhookDelivery, job); err != nil {
		return nil, errors.ErrInternalServer("failed to enqueue webhook job", err)
	}

	return event, nil
}
