package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/models"
)

// streamPollInterval is how often the event log is tailed per
// connection.
const streamPollInterval = 500 * time.Millisecond

// paymentSummary is the enrichment block attached to per-user stream
// events.
type paymentSummary struct {
	ID           string               `json:"payment_id"`
	Amount       decimal.Decimal      `json:"amount"`
	DestCurrency string               `json:"destination_currency"`
	Status       models.PaymentStatus `json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
}

type userEvent struct {
	models.Event
	Payment paymentSummary `json:"payment"`
}

func summarize(p *models.Payment) paymentSummary {
	return paymentSummary{
		ID:           p.ID,
		Amount:       p.Amount,
		DestCurrency: p.DestCurrency,
		Status:       p.Status,
		CreatedAt:    p.CreatedAt,
	}
}

// writeFrame emits one server-sent event.
func writeFrame(w http.ResponseWriter, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
	return err
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// handlePaymentEvents streams the event log for one payment: an
// initial burst of all existing events, then a 500ms tail. When the
// payment reaches a terminal state a payment.complete frame is sent
// and the connection is closed.
func (s *Server) handlePaymentEvents(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["paymentId"]
	ctx := r.Context()

	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sseHeaders(w)
	w.WriteHeader(http.StatusOK)

	events, err := s.events.ListByPayment(ctx, paymentID)
	if err != nil {
		logger.Error("Failed to load event burst", logger.Fields{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
		return
	}

	var highWater time.Time
	for i := range events {
		if writeFrame(w, "payment.event", &events[i]) != nil {
			return
		}
		highWater = events[i].Timestamp
	}
	flusher.Flush()

	if p.Status.IsTerminal() {
		writeFrame(w, "payment.complete", p) //nolint:errcheck
		flusher.Flush()
		return
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fresh, err := s.events.ListByPaymentSince(ctx, paymentID, highWater)
		if err != nil {
			logger.Warn("Event tail failed", logger.Fields{
				"payment_id": paymentID,
				"error":      err.Error(),
			})
			continue
		}

		for i := range fresh {
			if writeFrame(w, "payment.event", &fresh[i]) != nil {
				return
			}
			highWater = fresh[i].Timestamp
		}
		if len(fresh) > 0 {
			flusher.Flush()
		}

		p, err = s.payments.Get(ctx, paymentID)
		if err != nil {
			logger.Warn("Payment reload failed", logger.Fields{
				"payment_id": paymentID,
				"error":      err.Error(),
			})
			continue
		}
		if p.Status.IsTerminal() {
			writeFrame(w, "payment.complete", p) //nolint:errcheck
			flusher.Flush()
			return
		}
	}
}

// handleUserEvents streams all events across a user's payments: a
// newest-first burst enriched with a payment block, then a
// chronological 500ms tail. The payment id set is refreshed on every
// poll so newly created payments are picked up. The server never
// closes the stream voluntarily.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["userId"]
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sseHeaders(w)
	w.WriteHeader(http.StatusOK)

	summaries := map[string]paymentSummary{}

	enrich := func(e *models.Event) (*userEvent, error) {
		summary, ok := summaries[e.PaymentID]
		if !ok {
			p, err := s.payments.Get(ctx, e.PaymentID)
			if err != nil {
				return nil, err
			}
			summary = summarize(p)
			summaries[e.PaymentID] = summary
		}
		return &userEvent{Event: *e, Payment: summary}, nil
	}

	ids, err := s.payments.ListIDsByUser(ctx, user)
	if err != nil {
		logger.Error("Failed to list user payments", logger.Fields{
			"user_id": user,
			"error":   err.Error(),
		})
		return
	}

	burst, err := s.events.ListRecentByPayments(ctx, ids)
	if err != nil {
		logger.Error("Failed to load event burst", logger.Fields{
			"user_id": user,
			"error":   err.Error(),
		})
		return
	}

	// The mark only advances past events actually written, so an
	// enrichment failure leaves the event for the tail to re-send.
	var highWater time.Time
	for i := range burst {
		enriched, err := enrich(&burst[i])
		if err != nil {
			continue
		}
		if writeFrame(w, "user.event", enriched) != nil {
			return
		}
		if burst[i].Timestamp.After(highWater) {
			highWater = burst[i].Timestamp
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids, err := s.payments.ListIDsByUser(ctx, user)
		if err != nil {
			continue
		}

		fresh, err := s.events.ListByPaymentsSince(ctx, ids, highWater)
		if err != nil {
			logger.Warn("Event tail failed", logger.Fields{
				"user_id": user,
				"error":   err.Error(),
			})
			continue
		}

		// Event status changes invalidate cached summaries.
		for i := range fresh {
			delete(summaries, fresh[i].PaymentID)
		}

		for i := range fresh {
			enriched, err := enrich(&fresh[i])
			if err != nil {
				// Stop at the failed event; the whole remainder is
				// retried on the next poll.
				logger.Warn("Event enrichment failed", logger.Fields{
					"payment_id": fresh[i].PaymentID,
					"error":      err.Error(),
				})
				break
			}
			if writeFrame(w, "user.event", enriched) != nil {
				return
			}
			highWater = fresh[i].Timestamp
		}
		if len(fresh) > 0 {
			flusher.Flush()
		}
	}
}
