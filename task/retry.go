// Package task provides the durable-execution primitives the
// verification workflows are built on: retryable steps and a workflow
// engine with start/query semantics.
//
// The engine here is in-process; orchestration code only depends on the
// step and handle contracts, so a distributed substrate can be swapped in
// without touching workflow logic.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verisim-io/verisim/log"
)

// RetryPolicy bounds the retry behavior of a step.
type RetryPolicy struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// BackoffCoefficient multiplies the delay after each attempt.
	BackoffCoefficient float64
	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration
	// MaxAttempts is the total attempt budget (>= 1).
	MaxAttempts int
}

// DefaultRetryPolicy returns the standard policy for remote calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        30 * time.Second,
		MaxAttempts:        5,
	}
}

// terminalError marks an error as non-retryable.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps an error so Execute stops retrying immediately.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether the error was marked via Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// Execute runs fn with bounded retries. Errors marked Terminal and
// context cancellation stop retries immediately; other errors are
// retried with exponential backoff up to the policy's attempt budget.
// The returned error unwraps to the last attempt's error.
func Execute(ctx context.Context, logger *log.Logger, name string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffCoefficient < 1 {
		policy.BackoffCoefficient = 1
	}

	delay := policy.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %s: %w", name, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsTerminal(lastErr) {
			return fmt.Errorf("step %s: %w", name, lastErr)
		}
		if attempt == policy.MaxAttempts {
			break
		}

		logger.Warn("step failed, retrying", map[string]any{
			"step":    name,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		})

		select {
		case <-ctx.Done():
			return fmt.Errorf("step %s: %w", name, ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * policy.BackoffCoefficient)
		if policy.MaxInterval > 0 && delay > policy.MaxInterval {
			delay = policy.MaxInterval
		}
	}

	return fmt.Errorf("step %s: attempts exhausted: %w", name, lastErr)
}
