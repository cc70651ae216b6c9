package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corridorpay/corridor/internal/errors"
	"github.com/corridorpay/corridor/internal/logger"
	"github.com/corridorpay/corridor/internal/models"
	"github.com/corridorpay/corridor/internal/quotes"
	"github.com/corridorpay/corridor/internal/store"
	"github.com/corridorpay/corridor/internal/validator"
	"github.com/gorilla/mux"
)

type quoteRequest struct {
	Amount              json.Number `json:"amount"`
	DestinationCurrency string      `json:"destination_currency"`
	PaymentMethod       string      `json:"payment_method"`
	FeeHandling         string      `json:"fee_handling"`
}

type initiateRequest struct {
	QuoteID             string      `json:"quote_id"`
	Amount              json.Number `json:"amount"`
	DestinationCurrency string      `json:"destination_currency"`
	PaymentMethod       string      `json:"payment_method"`
	FeeHandling         string      `json:"fee_handling"`
}

type initiateResponse struct {
	PaymentID      string               `json:"payment_id"`
	Status         models.PaymentStatus `json:"status"`
	QuoteExpiresAt time.Time            `json:"quote_expires_at"`
}

type confirmRequest struct {
	PaymentID string `json:"payment_id"`
}

type confirmResponse struct {
	PaymentID  string               `json:"payment_id"`
	Status     models.PaymentStatus `json:"status"`
	Processing bool                 `json:"processing"`
}

// buildQuote validates the shared quote inputs and computes a fresh
// quote. Used by both the quote and initiate endpoints so fees are
// always recomputed server-side.
func (s *Server) buildQuote(r *http.Request, amountRaw json.Number, currency, method, handling string) (*quotes.Quote, error) {
	amount, err := validator.ParseAmount(amountRaw.String())
	if err != nil {
		return nil, err
	}
	if err := validator.ValidatePaymentMethod(method); err != nil {
		return nil, err
	}
	if err := validator.ValidateFeeHandling(handling); err != nil {
		return nil, err
	}

	return s.quotes.Quote(r.Context(), &quotes.Request{
		Amount:       amount,
		DestCurrency: currency,
		Method:       method,
		FeeHandling:  handling,
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.ErrInvalidInput("body", "must be valid JSON"))
		return
	}

	quote, err := s.buildQuote(r, req.Amount, req.DestinationCurrency, req.PaymentMethod, req.FeeHandling)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quote)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.ErrInvalidInput("body", "must be valid JSON"))
		return
	}

	// Unlike the quote endpoint, initiate does not default the fee
	// handling: the caller must state who absorbs the fees.
	if req.FeeHandling == "" {
		respondError(w, errors.ErrInvalidInput("fee_handling", "is required"))
		return
	}

	user := userID(r)

	quote, err := s.buildQuote(r, req.Amount, req.DestinationCurrency, req.PaymentMethod, req.FeeHandling)
	if err != nil {
		respondError(w, err)
		return
	}

	available, err := s.balance.Available(r.Context(), user)
	if err != nil {
		respondError(w, errors.ErrInternalServer("failed to check balance", err))
		return
	}
	if quote.TotalCharged.GreaterThan(available) {
		respondError(w, errors.ErrInsufficientBalance(quote.TotalCharged.String(), available.String()))
		return
	}

	p := &models.Payment{
		ID:                uuid.New().String(),
		UserID:            user,
		SourceCurrency:    "USD",
		DestCurrency:      req.DestinationCurrency,
		Amount:            quote.Breakdown.InputAmount,
		PaymentMethod:     req.PaymentMethod,
		FeeHandling:       req.FeeHandling,
		OnrampFee:         quote.Breakdown.Fees.Onramp,
		CorridorFee:       quote.Breakdown.Fees.Corridor,
		PlatformFee:       quote.Breakdown.Fees.Platform,
		NetworkGasFee:     quote.Breakdown.Fees.NetworkGas,
		TotalFees:         quote.Breakdown.Fees.Total,
		UsdcSent:          quote.Breakdown.UsdcSent,
		ExchangeRate:      quote.ExchangeRate,
		DestinationAmount: quote.Breakdown.DestinationAmount,
		QuoteExpiresAt:    time.Now().UTC().Add(quotes.QuoteTTL),
	}
	if req.QuoteID != "" {
		p.QuoteID = &req.QuoteID
	}

	if err := s.payments.Create(r.Context(), p); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, initiateResponse{
		PaymentID:      p.ID,
		Status:         p.Status,
		QuoteExpiresAt: p.QuoteExpiresAt,
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.ErrInvalidInput("body", "must be valid JSON"))
		return
	}
	if req.PaymentID == "" {
		respondError(w, errors.ErrInvalidInput("payment_id", "is required"))
		return
	}

	p, err := s.payments.Get(r.Context(), req.PaymentID)
	if err != nil {
		respondError(w, err)
		return
	}

	if p.Status != models.StatusInitiated {
		respondError(w, errors.ErrInvalidStateTransition(string(p.Status), string(models.StatusConfirmed)))
		return
	}
	if time.Now().UTC().After(p.QuoteExpiresAt) {
		respondError(w, errors.ErrQuoteExpired(p.ID))
		return
	}

	p, err = s.payments.Transition(r.Context(), p.ID, models.StatusConfirmed, &store.TransitionOpts{
		EnqueuePaymentJob: true,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	logger.Info("Payment confirmed", logger.Fields{
		"payment_id": p.ID,
		"user_id":    p.UserID,
	})

	respondJSON(w, http.StatusOK, confirmResponse{
		PaymentID:  p.ID,
		Status:     p.Status,
		Processing: true,
	})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.Get(r.Context(), mux.Vars(r)["paymentId"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
