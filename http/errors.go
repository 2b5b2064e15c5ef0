package http

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned by the transport while a host's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError records an unhealthy response against a host's circuit.
// The response itself is still handed to the caller.
type StatusError struct {
	Host       string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: status %d, retry after %v", e.Host, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s: status %d", e.Host, e.StatusCode)
}

// IsTransientError reports whether err should count against a circuit.
// Cancellations and 4xx statuses other than 429 do not.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == 429
	}
	return true
}
