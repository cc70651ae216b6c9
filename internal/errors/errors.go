package errors

import (
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code       string // Machine-readable error code
	Message    string // Human-readable error message
	StatusCode int    // HTTP status code
	Err        error  // Underlying error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (underlying: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Common error constructors

// ErrInvalidInput creates a validation error for a request field
func ErrInvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:       "INVALID_INPUT",
		Message:    fmt.Sprintf("Invalid value for '%s': %s", field, reason),
		StatusCode: http.StatusBadRequest,
	}
}

// ErrInvalidIdempotencyKey creates an invalid idempotency key error
func ErrInvalidIdempotencyKey(reason string) *AppError {
	return &AppError{
		Code:       "INVALID_IDEMPOTENCY_KEY",
		Message:    fmt.Sprintf("Idempotency-Key header %s", reason),
		StatusCode: http.StatusBadRequest,
	}
}

// ErrIdempotencyConflict signals a reused key with a different request body
func ErrIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       "IDEMPOTENCY_CONFLICT",
		Message:    fmt.Sprintf("Idempotency key '%s' was already used with a different request body", key),
		StatusCode: http.StatusConflict,
	}
}

// ErrQuoteExpired creates a quote expired error
func ErrQuoteExpired(paymentID string) *AppError {
	return &AppError{
		Code:       "QUOTE_EXPIRED",
		Message:    fmt.Sprintf("Quote for payment '%s' has expired", paymentID),
		StatusCode: http.StatusBadRequest,
	}
}

// ErrInvalidStateTransition signals an illegal payment state transition
func ErrInvalidStateTransition(from, to string) *AppError {
	return &AppError{
		Code:       "INVALID_STATE_TRANSITION",
		Message:    fmt.Sprintf("Cannot transition payment from %s to %s", from, to),
		StatusCode: http.StatusBadRequest,
	}
}

// ErrNotFound creates a resource not found error
func ErrNotFound(resource, id string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s '%s' not found", resource, id),
		StatusCode: http.StatusNotFound,
	}
}

// ErrInsufficientBalance signals the user cannot cover the charge
func ErrInsufficientBalance(required, available string) *AppError {
	return &AppError{
		Code:       "INSUFFICIENT_BALANCE",
		Message:    fmt.Sprintf("Balance %s is insufficient for charge of %s", available, required),
		StatusCode: http.StatusBadRequest,
	}
}

// ErrRateUnavailable signals no exchange rate could be resolved
func ErrRateUnavailable(currency string) *AppError {
	return &AppError{
		Code:       "RATE_UNAVAILABLE",
		Message:    fmt.Sprintf("No exchange rate available for USD->%s", currency),
		StatusCode: http.StatusInternalServerError,
	}
}

// ErrProviderFailure wraps an onramp/offramp provider error
func ErrProviderFailure(stage string, err error) *AppError {
	return &AppError{
		Code:       "PROVIDER_FAILURE",
		Message:    fmt.Sprintf("%s provider call failed", stage),
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ErrInternalServer creates an internal server error
func ErrInternalServer(message string, err error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ErrorResponse represents an error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ToErrorResponse converts an AppError to an ErrorResponse
func ToErrorResponse(err *AppError) ErrorResponse {
	return ErrorResponse{
		Error:   err.Code,
		Message: err.Message,
	}
}
