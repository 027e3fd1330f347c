package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a failure class across all router layers.
type Code string

const (
	// Route
	RouteNotFound          Code = "ROUTE_NOT_FOUND"
	RouteExpired           Code = "ROUTE_EXPIRED"
	RouteCalculationFailed Code = "ROUTE_CALCULATION_FAILED"

	// Input
	InvalidInput    Code = "INVALID_INPUT"
	InvalidAmount   Code = "INVALID_AMOUNT"
	AmountTooSmall  Code = "AMOUNT_TOO_SMALL"
	AmountTooLarge  Code = "AMOUNT_TOO_LARGE"
	SlippageTooHigh Code = "SLIPPAGE_TOO_HIGH"
	TokenNotFound   Code = "TOKEN_NOT_FOUND"

	// Upstream
	DexUnavailable     Code = "DEX_UNAVAILABLE"
	DexRateLimited     Code = "DEX_RATE_LIMITED"
	DexInvalidResponse Code = "DEX_INVALID_RESPONSE"
	TransactionTimeout Code = "TRANSACTION_TIMEOUT"
	CircuitBreakerOpen Code = "CIRCUIT_BREAKER_OPEN"

	// Execution
	TransactionFailed     Code = "TRANSACTION_FAILED"
	SlippageExceeded      Code = "SLIPPAGE_EXCEEDED"
	InsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	InsufficientBalance   Code = "INSUFFICIENT_BALANCE"

	// Infrastructure
	CacheError           Code = "CACHE_ERROR"
	DatabaseError        Code = "DATABASE_ERROR"
	ExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
)

// Error is the typed error surfaced to callers. Messages never echo raw
// upstream payloads; anything provider-specific goes into Details.
type Error struct {
	Code      Code                   `json:"errorCode"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match on code equality so call sites can compare
// against sentinel-style errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a typed error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now().UTC()}
}

// Newf creates a typed error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause. The cause is kept for logs and unwrapping, never
// for the wire message.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

// WithDetail attaches a key/value to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID stamps the correlation token.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// CodeOf extracts the taxonomy code from any error chain, defaulting to
// EXTERNAL_SERVICE_ERROR for untyped failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ExternalServiceError
}

// AsError normalizes any error into a typed one.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ExternalServiceError, "internal error", err)
}

// HTTPStatus maps a taxonomy code onto an HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidInput, InvalidAmount, AmountTooSmall, AmountTooLarge, SlippageTooHigh:
		return http.StatusBadRequest
	case RouteNotFound, TokenNotFound:
		return http.StatusNotFound
	case RouteExpired:
		return http.StatusGone
	case DexRateLimited:
		return http.StatusTooManyRequests
	case TransactionTimeout:
		return http.StatusGatewayTimeout
	case DexUnavailable, CircuitBreakerOpen:
		return http.StatusServiceUnavailable
	case DexInvalidResponse:
		return http.StatusBadGateway
	case TransactionFailed, SlippageExceeded, InsufficientLiquidity, InsufficientBalance:
		return http.StatusUnprocessableEntity
	case RouteCalculationFailed, CacheError, DatabaseError, ExternalServiceError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the same request and expect
// a different outcome.
func Retryable(code Code) bool {
	switch code {
	case DexUnavailable, DexRateLimited, TransactionTimeout, CircuitBreakerOpen, ExternalServiceError, CacheError:
		return true
	default:
		return false
	}
}
