package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/idempotency"
	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/validator"
)

// responseRecorder buffers the handler's response so it can be stored
// before anything reaches the client.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *responseRecorder) flush(w http.ResponseWriter) {
	for k, vs := range r.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.status)
	w.Write(r.body.Bytes()) //nolint:errcheck
}

// idempotent wraps a mutating handler with the idempotency protocol:
// a valid Idempotency-Key header is required, a repeated request with
// the same body replays the stored response verbatim, and a repeated
// key with a different body is rejected with a conflict.
func (s *Server) idempotent(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if err := validator.ValidateIdempotencyKey(key); err != nil {
			respondError(w, err)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		user := userID(r)
		fingerprint := idempotency.Fingerprint(body)

		rec, err := s.idem.Lookup(r.Context(), endpoint, user, key)
		if err != nil {
			// A cache outage degrades to executing the request; the
			// payment store's unique constraints still prevent
			// duplicate rows.
			logger.Warn("Idempotency lookup failed", logger.Fields{
				"endpoint": endpoint,
				"error":    err.Error(),
			})
		}

		if rec != nil {
			if rec.Fingerprint != fingerprint {
				respondError(w, errors.ErrIdempotencyConflict(key))
				return
			}

			for k, v := range rec.Headers {
				w.Header().Set(k, v)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.Status)
			w.Write(rec.Body) //nolint:errcheck

			logger.Info("Idempotent replay", logger.Fields{
				"endpoint": endpoint,
				"user_id":  user,
			})
			return
		}

		recorder := newRecorder()
		next(recorder, r)

		saved := &idempotency.Record{
			Fingerprint: fingerprint,
			Status:      recorder.status,
			Headers:     map[string]string{"Content-Type": recorder.header.Get("Content-Type")},
			Body:        recorder.body.Bytes(),
		}
		if err := s.idem.Save(r.Context(), endpoint, user, key, saved); err != nil {
			logger.Warn("Failed to store idempotency record", logger.Fields{
				"endpoint": endpoint,
				"error":    err.Error(),
			})
		}

		recorder.flush(w)
	}
}
