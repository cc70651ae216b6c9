package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current state of a payment
type PaymentStatus string

const (
	StatusQuoted           PaymentStatus = "QUOTED"
	StatusInitiated        PaymentStatus = "INITIATED"
	StatusConfirmed        PaymentStatus = "CONFIRMED"
	StatusOnrampPending    PaymentStatus = "ONRAMP_PENDING"
	StatusOnrampCompleted  PaymentStatus = "ONRAMP_COMPLETED"
	StatusOnrampFailed     PaymentStatus = "ONRAMP_FAILED"
	StatusOfframpPending   PaymentStatus = "OFFRAMP_PENDING"
	StatusOfframpCompleted PaymentStatus = "OFFRAMP_COMPLETED"
	StatusOfframpFailed    PaymentStatus = "OFFRAMP_FAILED"
	StatusCompleted        PaymentStatus = "COMPLETED"
	StatusFailed           PaymentStatus = "FAILED"
)

// transitions is the set of permitted status transitions.
var transitions = map[PaymentStatus][]PaymentStatus{
	StatusInitiated:        {StatusConfirmed},
	StatusConfirmed:        {StatusOnrampPending},
	StatusOnrampPending:    {StatusOnrampCompleted, StatusOnrampFailed},
	StatusOnrampCompleted:  {StatusOfframpPending},
	StatusOfframpPending:   {StatusOfframpCompleted, StatusOfframpFailed},
	StatusOfframpCompleted: {StatusCompleted},
	StatusOnrampFailed:     {StatusFailed},
	StatusOfframpFailed:    {StatusFailed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the payment lifecycle.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventType returns the dotted lower-case event name for the status,
// e.g. ONRAMP_PENDING -> "onramp.pending".
func (s PaymentStatus) EventType() string {
	switch s {
	case StatusQuoted:
		return "payment.quoted"
	case StatusInitiated:
		return "payment.initiated"
	case StatusConfirmed:
		return "payment.confirmed"
	case StatusOnrampPending:
		return "onramp.pending"
	case StatusOnrampCompleted:
		return "onramp.completed"
	case StatusOnrampFailed:
		return "onramp.failed"
	case StatusOfframpPending:
		return "offramp.pending"
	case StatusOfframpCompleted:
		return "offramp.completed"
	case StatusOfframpFailed:
		return "offramp.failed"
	case StatusCompleted:
		return "payment.completed"
	case StatusFailed:
		return "payment.failed"
	}
	return "payment.unknown"
}

// Payment methods
const (
	MethodACH  = "ach"
	MethodCard = "card"
)

// Fee handling modes
const (
	FeeInclusive = "inclusive"
	FeeAdditive  = "additive"
)

// Payment represents a payment record in the system. Fee columns are
// written once at creation and never mutated afterwards.
type Payment struct {
	ID                string          `json:"payment_id" db:"id"`
	UserID            string          `json:"user_id" db:"user_id"`
	SourceCurrency    string          `json:"source_currency" db:"source_currency"`
	DestCurrency      string          `json:"destination_currency" db:"dest_currency"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	PaymentMethod     string          `json:"payment_method" db:"payment_method"`
	FeeHandling       string          `json:"fee_handling" db:"fee_handling"`
	OnrampFee         decimal.Decimal `json:"onramp_fee" db:"onramp_fee"`
	CorridorFee       decimal.Decimal `json:"corridor_fee" db:"corridor_fee"`
	PlatformFee       decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	NetworkGasFee     decimal.Decimal `json:"network_gas_fee" db:"network_gas_fee"`
	TotalFees         decimal.Decimal `json:"total_fees" db:"total_fees"`
	UsdcSent          decimal.Decimal `json:"usdc_sent" db:"usdc_sent"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate" db:"exchange_rate"`
	DestinationAmount decimal.Decimal `json:"destination_amount" db:"destination_amount"`
	QuoteID           *string         `json:"quote_id,omitempty" db:"quote_id"`
	QuoteExpiresAt    time.Time       `json:"quote_expires_at" db:"quote_expires_at"`
	Status            PaymentStatus   `json:"status" db:"status"`
	OnrampTxID        *string         `json:"onramp_tx_id,omitempty" db:"onramp_tx_id"`
	OfframpTxID       *string         `json:"offramp_tx_id,omitempty" db:"offramp_tx_id"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Event is an append-only record of one status mutation on a payment.
type Event struct {
	ID        string          `json:"event_id" db:"id"`
	PaymentID string          `json:"payment_id" db:"payment_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Status    PaymentStatus   `json:"status" db:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Webhook delivery statuses
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryExhausted DeliveryStatus = "exhausted"
)

// WebhookDelivery is the durable record of one webhook attempt group.
// The payload and signature are frozen when the row is created.
type WebhookDelivery struct {
	ID             string          `json:"delivery_id" db:"id"`
	PaymentID      string          `json:"payment_id" db:"payment_id"`
	EventType      string          `json:"event_type" db:"event_type"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Signature      string          `json:"signature" db:"signature"`
	Status         DeliveryStatus  `json:"status" db:"status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	MaxAttempts    int             `json:"max_attempts" db:"max_attempts"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ResponseStatus *int            `json:"response_status,omitempty" db:"response_status"`
	ResponseBody   *string         `json:"response_body,omitempty" db:"response_body"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// PaymentJob is the payload of a payment-processing queue message
type PaymentJob struct {
	PaymentID string `json:"payment_id"`
}

// WebhookJob is the payload of a webhook-delivery queue message
type WebhookJob struct {
	DeliveryID string `json:"delivery_id"`
	PaymentID  string `json:"payment_id"`
	EventType  string `json:"event_type"`
}
