package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/models"
	"github.com/corridorpay/corridor/internal/queue"
)

const (
	// maxInFlight bounds concurrent deliveries per worker process.
	maxInFlight = 10

	pollInterval    = 500 * time.Millisecond
	deliveryTimeout = 10 * time.Second

	// jobTimeout caps one delivery job end to end.
	jobTimeout = 30 * time.Second

	// maxResponseBody caps how much of the sink response is recorded.
	maxResponseBody = 4096
)

// Deliveries is the durable record surface the worker needs.
type Deliveries interface {
	Get(ctx context.Context, id string) (*models.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id string, responseStatus int, responseBody string) error
	MarkFailed(ctx context.Context, id string, responseStatus *int, responseBody *string, nextRetryAt *time.Time, exhausted bool) error
}

// Worker consumes webhook-delivery jobs and posts signed payloads to
// the configured sink.
type Worker struct {
	deliveries Deliveries
	queue      queue.Queue
	sinkURL    string
	client     *http.Client
}

// NewWorker creates a webhook delivery worker
func NewWorker(deliveries Deliveries, q queue.Queue, sinkURL string) *Worker {
	return &Worker{
		deliveries: deliveries,
		queue:      q,
		sinkURL:    sinkURL,
		client:     &http.Client{Timeout: deliveryTimeout},
	}
}

// Run consumes jobs until the context is cancelled. In-flight
// deliveries are drained before Run returns so every claimed job is
// acknowledged.
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.queue.Dequeue(ctx, queue.KindWebhookDelivery)
		if err != nil {
			logger.Error("Webhook dequeue failed", logger.Fields{"error": err.Error()})
			time.Sleep(pollInterval)
			continue
		}
		if job == nil {
			time.Sleep(pollInterval)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(job *queue.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			// Detached from the run context so a claimed delivery
			// finishes and acks during shutdown.
			jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()

			if err := w.Handle(jobCtx, job); err != nil {
				if ferr := w.queue.Fail(jobCtx, job, err); ferr != nil {
					logger.Error("Failed to record webhook job failure", logger.Fields{"error": ferr.Error()})
				}
				return
			}
			if cerr := w.queue.Complete(jobCtx, job); cerr != nil {
				logger.Error("Failed to complete webhook job", logger.Fields{"error": cerr.Error()})
			}
		}(job)
	}
}

// Handle delivers one webhook job. A non-2xx response or transport
// error is returned so the queue counts the attempt; the durable
// delivery record is updated either way.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var wj models.WebhookJob
	if err := json.Unmarshal(job.Payload, &wj); err != nil {
		return fmt.Errorf("failed to unmarshal webhook job: %w", err)
	}

	delivery, err := w.deliveries.Get(ctx, wj.DeliveryID)
	if err != nil {
		return fmt.Errorf("failed to load webhook delivery: %w", err)
	}

	// Redelivered jobs for settled records are no-ops.
	if delivery.Status == models.DeliveryDelivered || delivery.Status == models.DeliveryExhausted {
		return nil
	}

	status, body, sendErr := w.send(ctx, delivery)
	if sendErr == nil {
		if err := w.deliveries.MarkDelivered(ctx, delivery.ID, status, body); err != nil {
			return fmt.Errorf("failed to record delivered webhook: %w", err)
		}
		logger.Info("Webhook delivered", logger.Fields{
			"delivery_id": delivery.ID,
			"payment_id":  delivery.PaymentID,
			"event_type":  delivery.EventType,
			"status":      status,
		})
		return nil
	}

	attempt := job.Attempts + 1
	exhausted := attempt >= job.MaxAttempts

	var respStatus *int
	var respBody *string
	if status != 0 {
		respStatus = &status
		respBody = &body
	}
	var nextRetry *time.Time
	if !exhausted {
		at := time.Now().UTC().Add(queue.Backoff(queue.KindWebhookDelivery, attempt))
		nextRetry = &at
	}

	if err := w.deliveries.MarkFailed(ctx, delivery.ID, respStatus, respBody, nextRetry, exhausted); err != nil {
		logger.Error("Failed to record webhook failure", logger.Fields{
			"delivery_id": delivery.ID,
			"error":       err.Error(),
		})
	}

	logger.Warn("Webhook delivery failed", logger.Fields{
		"delivery_id": delivery.ID,
		"payment_id":  delivery.PaymentID,
		"attempt":     attempt,
		"exhausted":   exhausted,
		"error":       sendErr.Error(),
	})
	return sendErr
}

// send posts the frozen payload. Returns the response status and a
// truncated body when a response was received.
func (w *Worker) send(ctx context.Context, d *models.WebhookDelivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.sinkURL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", d.Signature)
	req.Header.Set("X-Webhook-Event", d.EventType)
	req.Header.Set("X-Webhook-Delivery", d.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	body := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, fmt.Errorf("webhook sink returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, body, nil
}
