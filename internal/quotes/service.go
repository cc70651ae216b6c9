package quotes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/fees"
	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/models"
)

// QuoteTTL is how long a quote stays honored at confirm time.
const QuoteTTL = 60 * time.Second

// RateProvider yields the current USD->X exchange rate.
type RateProvider interface {
	Rate(ctx context.Context, to string) (decimal.Decimal, error)
}

// Request carries the inputs for a quote.
type Request struct {
	Amount       decimal.Decimal
	DestCurrency string
	Method       string
	FeeHandling  string
}

// Fees is the exposed fee portion of a quote breakdown.
type Fees struct {
	Onramp     decimal.Decimal `json:"onramp"`
	Corridor   decimal.Decimal `json:"corridor"`
	Platform   decimal.Decimal `json:"platform"`
	NetworkGas decimal.Decimal `json:"network_gas"`
	Total      decimal.Decimal `json:"total"`
}

// Breakdown details how the input amount becomes the destination amount.
type Breakdown struct {
	InputAmount       decimal.Decimal `json:"input_amount"`
	Fees              Fees            `json:"fees"`
	UsdcSent          decimal.Decimal `json:"usdc_sent"`
	DestinationAmount decimal.Decimal `json:"destination_amount"`
	EffectiveRate     decimal.Decimal `json:"effective_rate"`
}

// Quote is a short-lived fee and rate snapshot. It is not persisted:
// the quote id is informational and fees are recomputed at initiate.
type Quote struct {
	QuoteID      string          `json:"quote_id"`
	ExpiresAt    time.Time       `json:"expires_at"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Breakdown    Breakdown       `json:"breakdown"`
	Margin       decimal.Decimal `json:"margin"`
	TotalCharged decimal.Decimal `json:"-"`
}

// Service composes the fee engine and the rate cache into quotes.
type Service struct {
	rates RateProvider
}

// NewService creates a quote service
func NewService(rates RateProvider) *Service {
	return &Service{rates: rates}
}

// Quote computes a fresh quote. Stateless: nothing is written.
func (s *Service) Quote(ctx context.Context, req *Request) (*Quote, error) {
	handling := req.FeeHandling
	if handling == "" {
		handling = models.FeeInclusive
	}

	breakdown, err := fees.Calculate(req.Amount, req.Method, req.DestCurrency, handling)
	if err != nil {
		return nil, err
	}

	rate, err := s.rates.Rate(ctx, req.DestCurrency)
	if err != nil {
		return nil, err
	}

	destAmount := breakdown.UsdcSent.Mul(rate).Round(2)
	effectiveRate := destAmount.Div(req.Amount).Round(6)
	margin := breakdown.Total.Div(req.Amount).Round(6)

	q := &Quote{
		QuoteID:      uuid.New().String(),
		ExpiresAt:    time.Now().UTC().Add(QuoteTTL),
		ExchangeRate: rate,
		Breakdown: Breakdown{
			InputAmount: req.Amount,
			Fees: Fees{
				Onramp:     breakdown.Onramp,
				Corridor:   breakdown.Corridor,
				Platform:   breakdown.Platform,
				NetworkGas: breakdown.NetworkGas,
				Total:      breakdown.Total,
			},
			UsdcSent:          breakdown.UsdcSent,
			DestinationAmount: destAmount,
			EffectiveRate:     effectiveRate,
		},
		Margin:       margin,
		TotalCharged: breakdown.TotalCharged,
	}

	logger.Info("Quote generated", logger.Fields{
		"quote_id":           q.QuoteID,
		"amount":             req.Amount.String(),
		"destination":        req.DestCurrency,
		"exchange_rate":      rate.String(),
		"total_fees":         breakdown.Total.String(),
		"destination_amount": destAmount.String(),
	})

	return q, nil
}
