// Package retry holds the backoff policies shared by job retries and broker
// or database connection attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// maxShift keeps Exponential from overflowing time.Duration.
const maxShift = 30

// Exponential returns base * 2^retried, where retried counts retries already
// performed (0 for the first retry).
func Exponential(base time.Duration, retried int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retried < 0 {
		retried = 0
	}
	if retried > maxShift {
		retried = maxShift
	}
	return base << uint(retried)
}

// Linear is a capped linear backoff: attempt n waits min(n*Step, Max).
type Linear struct {
	Attempts int
	Step     time.Duration
	Max      time.Duration
}

// Delay returns the wait before attempt n+1, n starting at 1.
func (p Linear) Delay(n int) time.Duration {
	d := time.Duration(n) * p.Step
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, the attempts run out or ctx ends. onRetry,
// when set, observes each failure before the wait.
func (p Linear) Do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for n := 1; n <= attempts; n++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || ctx.Err() != nil {
			return fmt.Errorf("retry canceled: %w", lastErr)
		}
		if n == attempts {
			break
		}
		delay := p.Delay(n)
		if onRetry != nil {
			onRetry(n, delay, lastErr)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
