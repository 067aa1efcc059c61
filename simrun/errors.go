package simrun

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrRunNotFound indicates the remote service does not know the run id.
// This is an irrecoverable input error, never a transient one: callers
// must not retry it.
var ErrRunNotFound = errors.New("simulation run not found")

// APIError is returned for non-2xx responses from the remote APIs.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Op is the operation that failed (e.g. "submit run").
	Op string
	// Body is a truncated response body for diagnostics.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is maps 404 responses onto ErrRunNotFound so callers can use
// errors.Is without inspecting status codes.
func (e *APIError) Is(target error) bool {
	return target == ErrRunNotFound && e.StatusCode == 404
}

// IsNotFound returns true when the remote reported the run id unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsTransient classifies an error as retryable: network failures,
// timeouts, and 5xx responses. Not-found and other 4xx client errors are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Errors that are neither API responses nor net.Error are treated as
	// transient plumbing failures (connection reset mid-body, etc).
	return true
}
