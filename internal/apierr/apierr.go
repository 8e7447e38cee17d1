// Package apierr defines the closed error taxonomy for the batch submission
// path and its mapping to HTTP-adjacent status semantics. It performs no I/O;
// it is the seam between the core pipeline and the HTTP layer.
package apierr

import (
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates the closed error taxonomy.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindServiceOverloaded  Kind = "service_overloaded"
	KindCircuitOpen        Kind = "circuit_open"
	KindConcurrencyLimit   Kind = "concurrency_limit_exceeded"
	KindExternalTimeout    Kind = "external_service_timeout"
	KindOptimisticConflict Kind = "optimistic_conflict"
	KindInternal           Kind = "internal_error"
)

// Error is a classified failure carrying retry guidance. Internal diagnostic
// detail stays in the wrapped cause and is never rendered to callers.
type Error struct {
	Kind       Kind
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the kind to its response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindServiceOverloaded, KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindConcurrencyLimit:
		return http.StatusTooManyRequests
	case KindExternalTimeout:
		return http.StatusServiceUnavailable
	case KindOptimisticConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a non-retryable client input error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Retryable: false}
}

// Overloaded builds a load-shedding rejection with the detector's retry delay.
func Overloaded(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindServiceOverloaded,
		Message:    "service is overloaded, retry with exponential backoff",
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// CircuitOpen builds a fail-fast rejection carrying the remaining recovery window.
func CircuitOpen(remaining time.Duration) *Error {
	return &Error{
		Kind:       KindCircuitOpen,
		Message:    "submissions are temporarily suspended",
		Retryable:  true,
		RetryAfter: remaining,
	}
}

// ConcurrencyLimit builds the admission gate timeout rejection. Distinct from a
// database-level connection timeout so callers can tell which layer refused.
func ConcurrencyLimit(cause error) *Error {
	return &Error{
		Kind:      KindConcurrencyLimit,
		Message:   "too many concurrent batch submissions",
		Retryable: true,
		cause:     cause,
	}
}

// ExternalTimeout builds a downstream trade-execution deadline failure.
func ExternalTimeout(cause error) *Error {
	return &Error{
		Kind:      KindExternalTimeout,
		Message:   "trade execution service did not respond in time",
		Retryable: true,
		cause:     cause,
	}
}

// Conflict builds a stale-write rejection; retry immediately after a re-read.
func Conflict(msg string) *Error {
	return &Error{Kind: KindOptimisticConflict, Message: msg, Retryable: true}
}

// Internal wraps an unclassified failure.
func Internal(cause error) *Error {
	return &Error{
		Kind:      KindInternal,
		Message:   "internal error",
		Retryable: true,
		cause:     cause,
	}
}
