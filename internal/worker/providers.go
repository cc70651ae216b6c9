package worker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/logger"
)

// ChargeRequest asks the onramp provider to collect fiat from the user
// and mint the corresponding USDC.
type ChargeRequest struct {
	PaymentID string
	UserID    string
	Amount    decimal.Decimal
	Method    string
	Usdc      decimal.Decimal
}

// ChargeResult is the provider's confirmation of a completed charge.
type ChargeResult struct {
	TxID         string
	UsdcReceived decimal.Decimal
}

// SettleRequest asks the offramp provider to pay out local currency
// against the USDC held for the payment.
type SettleRequest struct {
	PaymentID string
	Usdc      decimal.Decimal
	Currency  string
	Amount    decimal.Decimal
}

// SettleResult is the provider's confirmation of a completed payout.
type SettleResult struct {
	TxID       string
	AmountPaid decimal.Decimal
}

// OnrampProvider converts fiat into USDC.
type OnrampProvider interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// OfframpProvider converts USDC into local currency at the destination.
type OfframpProvider interface {
	Settle(ctx context.Context, req SettleRequest) (*SettleResult, error)
}

// MockOnramp simulates an onramp partner. Latency and failure rate are
// tunable so local runs can exercise the retry path.
type MockOnramp struct {
	FailureRate float32
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

// NewMockOnramp creates a mock onramp with the default simulated
// latency and a 5% failure rate.
func NewMockOnramp() *MockOnramp {
	return &MockOnramp{
		FailureRate: 0.05,
		MinLatency:  100 * time.Millisecond,
		MaxLatency:  300 * time.Millisecond,
	}
}

// Charge simulates collecting fiat and minting USDC 1:1 against the
// requested amount.
func (m *MockOnramp) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := sleepFor(ctx, m.MinLatency, m.MaxLatency); err != nil {
		return nil, err
	}

	if rand.Float32() < m.FailureRate {
		return nil, fmt.Errorf("mock onramp declined charge for payment %s", req.PaymentID)
	}

	txID := fmt.Sprintf("onramp_%s_%d", req.Method, time.Now().UnixNano())

	logger.Info("Mock onramp charge settled", logger.Fields{
		"payment_id": req.PaymentID,
		"tx_id":      txID,
		"amount":     req.Amount.String(),
		"usdc":       req.Usdc.String(),
	})

	return &ChargeResult{TxID: txID, UsdcReceived: req.Usdc}, nil
}

// MockOfframp simulates an offramp partner.
type MockOfframp struct {
	FailureRate float32
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

// NewMockOfframp creates a mock offramp with the default simulated
// latency and a 5% failure rate.
func NewMockOfframp() *MockOfframp {
	return &MockOfframp{
		FailureRate: 0.05,
		MinLatency:  100 * time.Millisecond,
		MaxLatency:  300 * time.Millisecond,
	}
}

// Settle simulates paying out the quoted destination amount.
func (m *MockOfframp) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	if err := sleepFor(ctx, m.MinLatency, m.MaxLatency); err != nil {
		return nil, err
	}

	if rand.Float32() < m.FailureRate {
		return nil, fmt.Errorf("mock offramp rejected payout for payment %s", req.PaymentID)
	}

	txID := fmt.Sprintf("offramp_%s_%d", req.Currency, time.Now().UnixNano())

	logger.Info("Mock offramp payout settled", logger.Fields{
		"payment_id": req.PaymentID,
		"tx_id":      txID,
		"usdc":       req.Usdc.String(),
		"amount":     req.Amount.String(),
		"currency":   req.Currency,
	})

	return &SettleResult{TxID: txID, AmountPaid: req.Amount}, nil
}

// sleepFor waits a random duration in [min, max], respecting context
// cancellation.
func sleepFor(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
