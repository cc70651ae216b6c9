package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/corridorpay/corridor/internal/balance"
	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/idempotency"
	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/models"
	"github.com/corridorpay/corridor/internal/quotes"
	"github.com/corridorpay/corridor/internal/store"
)

// defaultUser is assumed when no X-User-ID header is present.
// Authentication is handled upstream of this service.
const defaultUser = "demo"

// Payments is the payment persistence surface the API needs.
type Payments interface {
	Create(ctx context.Context, p *models.Payment) error
	Get(ctx context.Context, paymentID string) (*models.Payment, error)
	ListIDsByUser(ctx context.Context, userID string) ([]string, error)
	Transition(ctx context.Context, paymentID string, to models.PaymentStatus, opts *store.TransitionOpts) (*models.Payment, error)
}

// Events is the event log read surface used by the streaming endpoints.
type Events interface {
	ListByPayment(ctx context.Context, paymentID string) ([]models.Event, error)
	ListByPaymentSince(ctx context.Context, paymentID string, after time.Time) ([]models.Event, error)
	ListRecentByPayments(ctx context.Context, paymentIDs []string) ([]models.Event, error)
	ListByPaymentsSince(ctx context.Context, paymentIDs []string, after time.Time) ([]models.Event, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	quotes   *quotes.Service
	payments Payments
	events   Events
	balance  balance.Oracle
	idem     *idempotency.Store
}

// NewServer creates the API server
func NewServer(q *quotes.Service, payments Payments, events Events, oracle balance.Oracle, idem *idempotency.Store) *Server {
	return &Server{
		quotes:   q,
		payments: payments,
		events:   events,
		balance:  oracle,
		idem:     idem,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/quote", s.handleQuote).Methods(http.MethodPost)
	v1.HandleFunc("/initiate", s.idempotent("initiate", s.handleInitiate)).Methods(http.MethodPost)
	v1.HandleFunc("/confirm", s.idempotent("confirm", s.handleConfirm)).Methods(http.MethodPost)
	v1.HandleFunc("/payments/{paymentId}", s.handleGetPayment).Methods(http.MethodGet)
	v1.HandleFunc("/events/user/{userId}", s.handleUserEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/{paymentId}", s.handlePaymentEvents).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userID resolves the acting user from the request.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return defaultUser
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", logger.Fields{"error": err.Error()})
	}
}

// respondError maps any error to the structured envelope. Unknown
// errors become opaque 500s.
func respondError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		logger.Error("Unhandled error", logger.Fields{"error": err.Error()})
		appErr = errors.ErrInternalServer("An unexpected error occurred", err)
	}

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("Request failed", logger.Fields{
			"code":  appErr.Code,
			"error": appErr.Error(),
		})
	}

	respondJSON(w, appErr.StatusCode, errors.ToErrorResponse(appErr))
}
