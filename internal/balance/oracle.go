package balance

import (
	"context"

	"github.com/shopspring/decimal"
)

// Oracle reports the USD funds a user can cover a charge with.
type Oracle interface {
	Available(ctx context.Context, userID string) (decimal.Decimal, error)
}

// FixedOracle reports the same configured balance for every user. It
// stands in for a real ledger lookup until funding sources exist.
type FixedOracle struct {
	amount decimal.Decimal
}

// NewFixedOracle creates an oracle with a fixed per-user balance.
func NewFixedOracle(amount decimal.Decimal) *FixedOracle {
	return &FixedOracle{amount: amount}
}

// Available returns the configured balance regardless of user.
func (o *FixedOracle) Available(_ context.Context, _ string) (decimal.Decimal, error) {
	return o.amount, nil
}
