package validator

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/models"
)

// ValidateIdempotencyKey validates an Idempotency-Key header value.
// Keys must be version 4 UUIDs.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return errors.ErrInvalidIdempotencyKey("is required")
	}

	id, err := uuid.Parse(key)
	if err != nil {
		return errors.ErrInvalidIdempotencyKey("must be a valid UUID")
	}
	if id.Version() != 4 {
		return errors.ErrInvalidIdempotencyKey("must be a version 4 UUID")
	}
	return nil
}

// ParseAmount parses a request amount string into a decimal. Amount
// bounds are enforced by the fee calculator; this only rejects values
// that are not well-formed positive decimals.
func ParseAmount(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, errors.ErrInvalidInput("amount", "is required")
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.ErrInvalidInput("amount", "must be a decimal number")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.ErrInvalidInput("amount", "must be greater than 0")
	}
	return amount, nil
}

// ValidatePaymentMethod checks the method enum.
func ValidatePaymentMethod(method string) error {
	switch method {
	case models.MethodACH, models.MethodCard:
		return nil
	case "":
		return errors.ErrInvalidInput("payment_method", "is required")
	}
	return errors.ErrInvalidInput("payment_method", "must be one of: ach, card")
}

// ValidateFeeHandling checks the fee handling enum. An empty value is
// allowed here; the quote endpoint defaults it to inclusive while
// initiate requires it explicitly.
func ValidateFeeHandling(handling string) error {
	switch handling {
	case "", models.FeeInclusive, models.FeeAdditive:
		return nil
	}
	return errors.ErrInvalidInput("fee_handling", "must be one of: inclusive, additive")
}
