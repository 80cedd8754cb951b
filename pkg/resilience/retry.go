package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy describes bounded exponential backoff without jitter.
// Attempt n (0-indexed) that fails waits BaseDelay * 2^n before the next one;
// no wait follows the final attempt.
type RetryPolicy struct {
	Attempts       int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is three attempts, 1s base delay and a 10s per-attempt timeout
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second, AttemptTimeout: 10 * time.Second}
}

// Delay returns the wait after the given failed attempt
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// RetryError is returned once every attempt failed
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error {
	return e.Last
}

// permanent marks an error that must not be retried
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Retry runs fn up to p.Attempts times. Each attempt gets its own context
// bounded by AttemptTimeout. onFailure, when set, observes every failed attempt.
func Retry(ctx context.Context, p RetryPolicy, sleep Sleeper, fn func(ctx context.Context, attempt int) error, onFailure func(attempt int, err error)) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if sleep == nil {
		sleep = ContextSleep
	}

	var last error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		last = runAttempt(ctx, p.AttemptTimeout, attempt, fn)
		if last == nil {
			return nil
		}

		if onFailure != nil {
			onFailure(attempt, last)
		}

		var perm permanent
		if errors.As(last, &perm) {
			return perm.err
		}

		if attempt == p.Attempts-1 {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return &RetryError{Attempts: attempt + 1, Last: last}
		}
	}

	return &RetryError{Attempts: p.Attempts, Last: last}
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn func(context.Context, int) error) error {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx, attempt)
}
