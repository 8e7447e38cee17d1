package apierr

import (
	"net/http"
	"time"
)

// ProblemDetails is the RFC 7807 document rendered to external callers. Only
// the classified kind, message, and retry guidance are exposed.
type ProblemDetails struct {
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Status     int       `json:"status"`
	Detail     string    `json:"detail"`
	Instance   string    `json:"instance,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Retryable  bool      `json:"retryable"`
	RetryAfter int       `json:"retryAfterSeconds,omitempty"`
}

const typeBase = "https://api.finvex.io/errors/"

var titles = map[Kind]string{
	KindValidation:         "Validation Error",
	KindServiceOverloaded:  "Service Overloaded",
	KindCircuitOpen:        "Circuit Open",
	KindConcurrencyLimit:   "Concurrency Limit Exceeded",
	KindExternalTimeout:    "External Service Timeout",
	KindOptimisticConflict: "Optimistic Conflict",
	KindInternal:           "Internal Server Error",
}

// Problem renders the error as an RFC 7807 document for the given instance path.
func (e *Error) Problem(instance string) *ProblemDetails {
	title, ok := titles[e.Kind]
	if !ok {
		title = titles[KindInternal]
	}
	return &ProblemDetails{
		Type:       typeBase + string(e.Kind),
		Title:      title,
		Status:     e.HTTPStatus(),
		Detail:     e.Message,
		Instance:   instance,
		Timestamp:  time.Now().UTC(),
		Retryable:  e.Retryable,
		RetryAfter: int(e.RetryAfter / time.Second),
	}
}

// Classify normalizes any error into a taxonomy member. Already-classified
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if classified, ok := err.(*Error); ok {
		return classified
	}
	return Internal(err)
}

// StatusOf is a convenience for handlers that only need the response code.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return Classify(err).HTTPStatus()
}
