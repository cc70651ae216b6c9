package rates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/cache"
	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/logger"
)

const rateTTL = 30 * time.Second

// fallbackRates is used when the upstream source is unreachable.
var fallbackRates = map[string]decimal.Decimal{
	"MXN": decimal.NewFromFloat(17.50),
	"NGN": decimal.NewFromFloat(1650.00),
	"PHP": decimal.NewFromFloat(58.75),
	"INR": decimal.NewFromFloat(88.20),
	"BRL": decimal.NewFromFloat(5.45),
}

// Cache serves USD->X exchange rates from a short-TTL cache in front of
// an upstream source. Concurrent misses may each hit the upstream; the
// last write wins, which is harmless for a 30-second snapshot.
type Cache struct {
	store  cache.Store
	source Source
}

// New creates a rate cache. source may be nil, in which case only the
// fallback table is consulted on a cache miss.
func New(store cache.Store, source Source) *Cache {
	return &Cache{store: store, source: source}
}

func rateKey(to string) string {
	return "rate:USD:" + to
}

// Rate returns the USD->to exchange rate.
func (c *Cache) Rate(ctx context.Context, to string) (decimal.Decimal, error) {
	if cached, err := c.store.Get(ctx, rateKey(to)); err == nil {
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return rate, nil
		}
		// Unparsable cache entries are treated as misses.
	} else if err != cache.ErrMiss {
		logger.Warn("Rate cache read failed", logger.Fields{"currency": to, "error": err.Error()})
	}

	if c.source != nil {
		table, err := c.source.Fetch(ctx)
		if err != nil {
			logger.Warn("Rate source unavailable, using fallback table", logger.Fields{
				"currency": to,
				"error":    err.Error(),
			})
			return c.fallback(to)
		}

		rate, ok := table[to]
		if !ok {
			return c.fallback(to)
		}

		if err := c.store.Set(ctx, rateKey(to), rate.String(), rateTTL); err != nil {
			logger.Warn("Rate cache write failed", logger.Fields{"currency": to, "error": err.Error()})
		}
		return rate, nil
	}

	return c.fallback(to)
}

func (c *Cache) fallback(to string) (decimal.Decimal, error) {
	if rate, ok := fallbackRates[to]; ok {
		return rate, nil
	}
	return decimal.Zero, errors.ErrRateUnavailable(to)
}
