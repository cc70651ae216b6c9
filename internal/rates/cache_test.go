package rates

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corridorpay/corridor/internal/cache"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

type stubSource struct {
	rates map[string]decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) Fetch(context.Context) (map[string]decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rates, nil
}

func TestRateCacheHit(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Set(context.Background(), "rate:USD:MXN", "17.234", 0))

	source := &stubSource{rates: map[string]decimal.Decimal{"MXN": decimal.NewFromFloat(99.0)}}
	c := New(store, source)

	rate, err := c.Rate(context.Background(), "MXN")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("17.234")))
	assert.Zero(t, source.calls, "cache hit must not reach the upstream")
}

func TestRateCacheMissFetchesAndStores(t *testing.T) {
	store := newMemStore()
	source := &stubSource{rates: map[string]decimal.Decimal{"PHP": decimal.RequireFromString("58.123")}}
	c := New(store, source)

	rate, err := c.Rate(context.Background(), "PHP")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("58.123")))
	assert.Equal(t, 1, source.calls)

	cached, err := store.Get(context.Background(), "rate:USD:PHP")
	require.NoError(t, err)
	assert.Equal(t, "58.123", cached)
}

func TestRateCacheFallsBackOnUpstreamFailure(t *testing.T) {
	c := New(newMemStore(), &stubSource{err: fmt.Errorf("upstream down")})

	rate, err := c.Rate(context.Background(), "NGN")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromFloat(1650.00)))
}

func TestRateCacheUnknownCurrency(t *testing.T) {
	c := New(newMemStore(), &stubSource{err: fmt.Errorf("upstream down")})

	_, err := c.Rate(context.Background(), "EUR")
	assert.Error(t, err)
}
