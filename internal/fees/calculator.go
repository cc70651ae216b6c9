package fees

import (
	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/models"
)

// Supported corridors and their fee rates (fraction of the amount).
var corridorRates = map[string]decimal.Decimal{
	"MXN": decimal.NewFromFloat(0.010),
	"NGN": decimal.NewFromFloat(0.020),
	"PHP": decimal.NewFromFloat(0.015),
	"INR": decimal.NewFromFloat(0.012),
	"BRL": decimal.NewFromFloat(0.018),
}

// Onramp fee rates per payment method.
var onrampRates = map[string]decimal.Decimal{
	models.MethodACH:  decimal.Zero,
	models.MethodCard: decimal.NewFromFloat(0.029),
}

var (
	minAmount = decimal.NewFromInt(10)
	maxAmount = decimal.NewFromInt(10000)

	platformBase = decimal.NewFromFloat(2.99)
	platformRate = decimal.NewFromFloat(0.005)
	platformMin  = decimal.NewFromFloat(0.99)
	platformMax  = decimal.NewFromFloat(50.00)

	networkGasFee = decimal.NewFromFloat(0.05)
)

// Breakdown contains the calculated fee components. All fields are
// rounded to two decimal places and internally consistent: Total is the
// exact sum of the four components, UsdcSent+Total equals the amount in
// inclusive mode and TotalCharged-Total equals the amount in additive
// mode.
type Breakdown struct {
	Onramp       decimal.Decimal `json:"onramp"`
	Corridor     decimal.Decimal `json:"corridor"`
	Platform     decimal.Decimal `json:"platform"`
	NetworkGas   decimal.Decimal `json:"network_gas"`
	Total        decimal.Decimal `json:"total"`
	UsdcSent     decimal.Decimal `json:"usdc_sent"`
	TotalCharged decimal.Decimal `json:"total_charged"`
}

// SupportedCorridor reports whether the destination currency is served.
func SupportedCorridor(currency string) bool {
	_, ok := corridorRates[currency]
	return ok
}

// Corridors returns the supported destination currencies.
func Corridors() []string {
	out := make([]string, 0, len(corridorRates))
	for c := range corridorRates {
		out = append(out, c)
	}
	return out
}

// Calculate computes the fee breakdown for a USD amount. It is a pure
// function: no I/O, deterministic for the same inputs.
func Calculate(amount decimal.Decimal, method, corridor, handling string) (*Breakdown, error) {
	if amount.Cmp(minAmount) < 0 || amount.Cmp(maxAmount) > 0 {
		return nil, errors.ErrInvalidInput("amount", "must be between 10.00 and 10000.00 USD")
	}

	onrampRate, ok := onrampRates[method]
	if !ok {
		return nil, errors.ErrInvalidInput("payment_method", "must be 'ach' or 'card'")
	}

	corridorRate, ok := corridorRates[corridor]
	if !ok {
		return nil, errors.ErrInvalidInput("destination_currency", "unsupported corridor")
	}

	if handling != models.FeeInclusive && handling != models.FeeAdditive {
		return nil, errors.ErrInvalidInput("fee_handling", "must be 'inclusive' or 'additive'")
	}

	onramp := amount.Mul(onrampRate).Round(2)
	corridorFee := amount.Mul(corridorRate).Round(2)
	platform := clamp(platformBase.Add(amount.Mul(platformRate)), platformMin, platformMax).Round(2)
	gas := networkGasFee

	// Total is the sum of the already-rounded components so the
	// consistency checks hold exactly after rounding.
	total := onramp.Add(corridorFee).Add(platform).Add(gas)

	b := &Breakdown{
		Onramp:     onramp,
		Corridor:   corridorFee,
		Platform:   platform,
		NetworkGas: gas,
		Total:      total,
	}

	if handling == models.FeeInclusive {
		b.UsdcSent = amount.Sub(total)
		b.TotalCharged = amount
	} else {
		b.UsdcSent = amount
		b.TotalCharged = amount.Add(total)
	}

	return b, nil
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.Cmp(min) < 0 {
		return min
	}
	if v.Cmp(max) > 0 {
		return max
	}
	return v
}
