package genai

import (
	"errors"
	"fmt"
)

// Kind classifies a generation-service failure. Only rate-limit and
// overload errors are retryable; everything else is terminal.
type Kind string

const (
	KindAuthentication   Kind = "authentication"
	KindMalformedRequest Kind = "malformed_request"
	KindModelNotFound    Kind = "model_not_found"
	KindTimeout          Kind = "timeout"
	KindRateLimited      Kind = "rate_limited"
	KindOverloaded       Kind = "overloaded"
	KindEmptyResponse    Kind = "empty_response"
	KindTransport        Kind = "transport"
)

// APIError is a typed failure from the generation service.
type APIError struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("generation service %s (status %d): %s", e.Kind, e.StatusCode, truncate(e.Message, 200))
	}
	return fmt.Sprintf("generation service %s: %s", e.Kind, truncate(e.Message, 200))
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindOverloaded
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthentication
	case status == 400 || status == 413 || status == 422:
		return KindMalformedRequest
	case status == 404:
		return KindModelNotFound
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindOverloaded
	default:
		return KindTransport
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
