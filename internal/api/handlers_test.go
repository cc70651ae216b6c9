package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corridorpay/corridor/internal/balance"
	"github.com/corridorpay/corridor/internal/cache"
	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/idempotency"
	"github.com/corridorpay/corridor/internal/models"
	"github.com/corridorpay/corridor/internal/quotes"
	"github.com/corridorpay/corridor/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

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

type stubRates struct{}

func (stubRates) Rate(_ context.Context, to string) (decimal.Decimal, error) {
	switch to {
	case "MXN":
		return decimal.RequireFromString("17.234"), nil
	case "NGN":
		return decimal.RequireFromString("745.50"), nil
	}
	return decimal.Zero, errors.ErrRateUnavailable(to)
}

type fakeStore struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
	events   []models.Event
	enqueued int

	// getFailures makes the next N Get calls fail.
	getFailures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: map[string]*models.Payment{}}
}

func (f *fakeStore) appendEvent(p *models.Payment) {
	f.events = append(f.events, models.Event{
		ID:        uuid.New().String(),
		PaymentID: p.ID,
		EventType: p.Status.EventType(),
		Status:    p.Status,
		Timestamp: time.Now().UTC(),
	})
}

func (f *fakeStore) Create(_ context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.QuoteID != nil {
		for _, existing := range f.payments {
			if existing.QuoteID != nil && *existing.QuoteID == *p.QuoteID {
				return errors.New("DUPLICATE_PAYMENT", "A payment for this quote already exists", 409, nil)
			}
		}
	}

	now := time.Now().UTC()
	p.Status = models.StatusInitiated
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	f.payments[p.ID] = &cp
	f.appendEvent(&cp)
	return nil
}

func (f *fakeStore) Get(_ context.Context, paymentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getFailures > 0 {
		f.getFailures--
		return nil, errors.ErrInternalServer("payment load failed", nil)
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, errors.ErrNotFound("Payment", paymentID)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListIDsByUser(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, p := range f.payments {
		if p.UserID == userID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) Transition(_ context.Context, paymentID string, to models.PaymentStatus, opts *store.TransitionOpts) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payments[paymentID]
	if !ok {
		return nil, errors.ErrNotFound("Payment", paymentID)
	}
	if !models.CanTransition(p.Status, to) {
		return nil, errors.ErrInvalidStateTransition(string(p.Status), string(to))
	}

	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	f.appendEvent(p)
	if opts != nil && opts.EnqueuePaymentJob {
		f.enqueued++
	}

	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListByPayment(_ context.Context, paymentID string) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, e := range f.events {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByPaymentSince(_ context.Context, paymentID string, after time.Time) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, e := range f.events {
		if e.PaymentID == paymentID && e.Timestamp.After(after) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRecentByPayments(_ context.Context, paymentIDs []string) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range paymentIDs {
		want[id] = true
	}
	var out []models.Event
	for i := len(f.events) - 1; i >= 0; i-- {
		if want[f.events[i].PaymentID] {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeStore) ListByPaymentsSince(_ context.Context, paymentIDs []string, after time.Time) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range paymentIDs {
		want[id] = true
	}
	var out []models.Event
	for _, e := range f.events {
		if want[e.PaymentID] && e.Timestamp.After(after) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	s := NewServer(
		quotes.NewService(stubRates{}),
		fs,
		fs,
		balance.NewFixedOracle(decimal.RequireFromString("10000.00")),
		idempotency.NewStore(newMemStore()),
	)
	return s, fs
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func withKey(extra ...string) map[string]string {
	h := map[string]string{"Idempotency-Key": uuid.New().String()}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

func TestQuoteEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/quote", map[string]interface{}{
		"amount":               100,
		"destination_currency": "MXN",
		"payment_method":       "ach",
		"fee_handling":         "inclusive",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var q quotes.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.NotEmpty(t, q.QuoteID)
	assert.Equal(t, "4.54", q.Breakdown.Fees.Total.String())
	assert.Equal(t, "95.46", q.Breakdown.UsdcSent.String())
	assert.Equal(t, "1645.16", q.Breakdown.DestinationAmount.String())
	assert.True(t, q.ExpiresAt.After(time.Now()))
}

func TestQuoteEndpointRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"below minimum", map[string]interface{}{"amount": 9.99, "destination_currency": "MXN", "payment_method": "ach"}},
		{"unknown corridor", map[string]interface{}{"amount": 100, "destination_currency": "EUR", "payment_method": "ach"}},
		{"unknown method", map[string]interface{}{"amount": 100, "destination_currency": "MXN", "payment_method": "wire"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/quote", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp errors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "INVALID_INPUT", resp.Error)
		})
	}
}

func initiateBody(amount interface{}) map[string]interface{} {
	return map[string]interface{}{
		"amount":               amount,
		"destination_currency": "MXN",
		"payment_method":       "ach",
		"fee_handling":         "inclusive",
	}
}

func TestInitiateCreatesPayment(t *testing.T) {
	s, fs := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/initiate", initiateBody(100), withKey())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp initiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusInitiated, resp.Status)
	assert.True(t, resp.QuoteExpiresAt.After(time.Now()))

	p, err := fs.Get(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, defaultUser, p.UserID)
	assert.Equal(t, "4.54", p.TotalFees.String())
	assert.Equal(t, "95.46", p.UsdcSent.String())
	assert.Equal(t, "17.234", p.ExchangeRate.String())
	assert.Equal(t, "1645.16", p.DestinationAmount.String())

	events, err := fs.ListByPayment(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "payment.initiated", events[0].EventType)
}

func TestInitiateRequiresFeeHandling(t *testing.T) {
	s, fs := newTestServer(t)

	body := initiateBody(100)
	delete(body, "fee_handling")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/initiate", body, withKey())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_INPUT", resp.Error)
	assert.Contains(t, resp.Message, "fee_handling")
	assert.Empty(t, fs.payments, "no payment row without an explicit fee handling")
}

func TestInitiateRejectsInsufficientBalance(t *testing.T) {
	fs := newFakeStore()
	s := NewServer(
		quotes.NewService(stubRates{}),
		fs,
		fs,
		balance.NewFixedOracle(decimal.RequireFromString("50.00")),
		idempotency.NewStore(newMemStore()),
	)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/initiate", initiateBody(100), withKey())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Error)
	assert.Empty(t, fs.payments, "no payment row on a rejected initiate")
}

func TestConfirmEnqueuesProcessing(t *testing.T) {
	s, fs := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/initiate", initiateBody(100), withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	var created initiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/confirm",
		map[string]string{"payment_id": created.PaymentID}, withKey())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp confirmResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusConfirmed, resp.Status)
	assert.True(t, resp.Processing)
	assert.Equal(t, 1, fs.enqueued)
}

func TestConfirmUnknownPayment(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/confirm",
		map[string]string{"payment_id": "missing"}, withKey())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmExpiredQuote(t *testing.T) {
	s, fs := newTestServer(t)

	p := &models.Payment{
		ID:             "pay-expired",
		UserID:         defaultUser,
		DestCurrency:   "MXN",
		Amount:         decimal.RequireFromString("100.00"),
		PaymentMethod:  models.MethodACH,
		FeeHandling:    models.FeeInclusive,
		QuoteExpiresAt: time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, fs.Create(context.Background(), p))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/confirm",
		map[string]string{"payment_id": p.ID}, withKey())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "QUOTE_EXPIRED", resp.Error)

	got, err := fs.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitiated, got.Status, "expired confirm must not mutate the payment")
	assert.Zero(t, fs.enqueued)
}

func TestConfirmRejectsAlreadyConfirmed(t *testing.T) {
	s, fs := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/initiate", initiateBody(100), withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	var created initiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	body := map[string]string{"payment_id": created.PaymentID}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/confirm", body, withKey())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/confirm", body, withKey())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_STATE_TRANSITION", resp.Error)
	assert.Equal(t, 1, fs.enqueued)
}

func TestGetPayment(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/initiate", initiateBody(100), withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	var created initiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/payments/%s", created.PaymentID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var p models.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, created.PaymentID, p.ID)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/payments/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
