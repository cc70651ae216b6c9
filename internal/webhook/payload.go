package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/models"
)

// APIVersion tags every webhook envelope.
const APIVersion = "2024-06-01"

// FeeBreakdown is the fee portion of a webhook payload.
type FeeBreakdown struct {
	Onramp     decimal.Decimal `json:"onramp"`
	Corridor   decimal.Decimal `json:"corridor"`
	Platform   decimal.Decimal `json:"platform"`
	NetworkGas decimal.Decimal `json:"network_gas"`
	Total      decimal.Decimal `json:"total"`
}

// PaymentData is the payment snapshot carried in a webhook payload.
type PaymentData struct {
	PaymentID         string          `json:"payment_id"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	DestCurrency      string          `json:"destination_currency"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	Fees              FeeBreakdown    `json:"fees"`
	UsdcSent          decimal.Decimal `json:"usdc_sent"`
	DestinationAmount decimal.Decimal `json:"destination_amount"`
	OnrampTxID        *string         `json:"onramp_tx_id,omitempty"`
	OfframpTxID       *string         `json:"offramp_tx_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// Envelope is the outbound webhook body. It is frozen when the
// delivery record is created and replayed verbatim on retries.
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	APIVersion string      `json:"api_version"`
	CreatedAt  time.Time   `json:"created_at"`
	Data       PaymentData `json:"data"`
}

// BuildEnvelope snapshots a payment and its triggering event.
func BuildEnvelope(p *models.Payment, e *models.Event) *Envelope {
	return &Envelope{
		ID:         e.ID,
		Type:       e.EventType,
		APIVersion: APIVersion,
		CreatedAt:  e.Timestamp,
		Data: PaymentData{
			PaymentID:    p.ID,
			Status:       string(p.Status),
			Amount:       p.Amount,
			DestCurrency: p.DestCurrency,
			ExchangeRate: p.ExchangeRate,
			Fees: FeeBreakdown{
				Onramp:     p.OnrampFee,
				Corridor:   p.CorridorFee,
				Platform:   p.PlatformFee,
				NetworkGas: p.NetworkGasFee,
				Total:      p.TotalFees,
			},
			UsdcSent:          p.UsdcSent,
			DestinationAmount: p.DestinationAmount,
			OnrampTxID:        p.OnrampTxID,
			OfframpTxID:       p.OfframpTxID,
			CreatedAt:         p.CreatedAt,
			UpdatedAt:         p.UpdatedAt,
			CompletedAt:       p.CompletedAt,
		},
	}
}

// Marshal serialises the envelope to the exact bytes that get signed
// and delivered.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Sign computes the hex-encoded HMAC-SHA256 of the payload body.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
