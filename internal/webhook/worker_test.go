package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corridorpay/corridor/internal/models"
	"github.com/corridorpay/corridor/internal/queue"
)

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA256("secret", "payload") from an independent implementation.
	sig := Sign("secret", []byte("payload"))
	assert.Equal(t, "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4", sig)
}

func TestBuildEnvelopeSnapshotsPayment(t *testing.T) {
	tx := "onramp_tx_1"
	p := &models.Payment{
		ID:           "pay-1",
		Status:       models.StatusOnrampCompleted,
		Amount:       decimal.NewFromInt(100),
		DestCurrency: "MXN",
		ExchangeRate: decimal.RequireFromString("17.234"),
		TotalFees:    decimal.RequireFromString("4.54"),
		UsdcSent:     decimal.RequireFromString("95.46"),
		OnrampTxID:   &tx,
	}
	e := &models.Event{
		ID:        "evt-1",
		PaymentID: "pay-1",
		EventType: "onramp.completed",
		Status:    models.StatusOnrampCompleted,
		Timestamp: time.Now().UTC(),
	}

	env := BuildEnvelope(p, e)
	assert.Equal(t, "evt-1", env.ID)
	assert.Equal(t, "onramp.completed", env.Type)
	assert.Equal(t, APIVersion, env.APIVersion)
	assert.Equal(t, "pay-1", env.Data.PaymentID)
	assert.Equal(t, "ONRAMP_COMPLETED", env.Data.Status)
	require.NotNil(t, env.Data.OnrampTxID)
	assert.Equal(t, tx, *env.Data.OnrampTxID)
}

type fakeDeliveries struct {
	delivery  *models.WebhookDelivery
	delivered bool
	failed    bool
	exhausted bool
	respCode  *int
	nextRetry *time.Time
}

func (f *fakeDeliveries) Get(context.Context, string) (*models.WebhookDelivery, error) {
	return f.delivery, nil
}

func (f *fakeDeliveries) MarkDelivered(_ context.Context, _ string, status int, _ string) error {
	f.delivered = true
	f.respCode = &status
	return nil
}

func (f *fakeDeliveries) MarkFailed(_ context.Context, _ string, status *int, _ *string, nextRetryAt *time.Time, exhausted bool) error {
	f.failed = true
	f.respCode = status
	f.nextRetry = nextRetryAt
	f.exhausted = exhausted
	return nil
}

func webhookJob(t *testing.T, attempts int) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(models.WebhookJob{DeliveryID: "del-1", PaymentID: "pay-1", EventType: "payment.completed"})
	require.NoError(t, err)
	return &queue.Job{Kind: queue.KindWebhookDelivery, Payload: payload, Attempts: attempts, MaxAttempts: 3}
}

func pendingDelivery() *models.WebhookDelivery {
	return &models.WebhookDelivery{
		ID:          "del-1",
		PaymentID:   "pay-1",
		EventType:   "payment.completed",
		Payload:     json.RawMessage(`{"id":"evt-1"}`),
		Signature:   Sign("secret", []byte(`{"id":"evt-1"}`)),
		Status:      models.DeliveryPending,
		MaxAttempts: 3,
	}
}

func TestHandleDeliversOn2xx(t *testing.T) {
	var gotSig, gotEvent string
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	deliveries := &fakeDeliveries{delivery: pendingDelivery()}
	w := NewWorker(deliveries, nil, sink.URL)

	err := w.Handle(context.Background(), webhookJob(t, 0))
	require.NoError(t, err)
	assert.True(t, deliveries.delivered)
	assert.False(t, deliveries.failed)
	assert.Equal(t, deliveries.delivery.Signature, gotSig)
	assert.Equal(t, "payment.completed", gotEvent)
}

func TestHandleRetriesOn5xx(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer sink.Close()

	deliveries := &fakeDeliveries{delivery: pendingDelivery()}
	w := NewWorker(deliveries, nil, sink.URL)

	err := w.Handle(context.Background(), webhookJob(t, 0))
	require.Error(t, err)
	assert.True(t, deliveries.failed)
	assert.False(t, deliveries.exhausted)
	require.NotNil(t, deliveries.respCode)
	assert.Equal(t, http.StatusBadGateway, *deliveries.respCode)
	require.NotNil(t, deliveries.nextRetry)
}

func TestHandleExhaustsOnFinalAttempt(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()

	deliveries := &fakeDeliveries{delivery: pendingDelivery()}
	w := NewWorker(deliveries, nil, sink.URL)

	err := w.Handle(context.Background(), webhookJob(t, 2))
	require.Error(t, err)
	assert.True(t, deliveries.exhausted)
	assert.Nil(t, deliveries.nextRetry)
}

type stubQueue struct {
	mu        sync.Mutex
	jobs      []*queue.Job
	completed int
	failed    int
}

func (q *stubQueue) Enqueue(context.Context, string, interface{}) error { return nil }

func (q *stubQueue) EnqueueTx(context.Context, *sqlx.Tx, string, interface{}) error { return nil }

func (q *stubQueue) Dequeue(context.Context, string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *stubQueue) Complete(context.Context, *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed++
	return nil
}

func (q *stubQueue) Fail(context.Context, *queue.Job, error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed++
	return nil
}

func TestRunDrainsInFlightDeliveryOnShutdown(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	q := &stubQueue{jobs: []*queue.Job{webhookJob(t, 0)}}
	deliveries := &fakeDeliveries{delivery: pendingDelivery()}
	w := NewWorker(deliveries, q, sink.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.True(t, deliveries.delivered, "the in-flight delivery must land despite the shutdown")
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, 1, q.completed)
}

func TestHandleSkipsSettledDelivery(t *testing.T) {
	d := pendingDelivery()
	d.Status = models.DeliveryDelivered
	deliveries := &fakeDeliveries{delivery: d}
	w := NewWorker(deliveries, nil, "http://sink.invalid")

	err := w.Handle(context.Background(), webhookJob(t, 1))
	require.NoError(t, err)
	assert.False(t, deliveries.delivered)
	assert.False(t, deliveries.failed)
}
