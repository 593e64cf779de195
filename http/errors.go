package http

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker for a host is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RateLimitError describes a response that asked the client to slow down.
type RateLimitError struct {
	// Host is the upstream host that rate limited the request.
	Host string
	// StatusCode is the HTTP status code (429 or 503).
	StatusCode int
	// RetryAfter is the server-provided or computed wait.
	RetryAfter time.Duration
}

// Error returns a string representation of the rate limit error.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s (status %d): retry after %v", e.Host, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s (status %d)", e.Host, e.StatusCode)
}

// HTTPError indicates a non-success HTTP status.
type HTTPError struct {
	StatusCode int
}

// Error returns a string representation of the HTTP error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}
