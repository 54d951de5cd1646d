package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds how many times an operation is attempted and how long to wait between attempts.
type Policy struct {
	MaxAttempts int
	// Backoff[i] is the wait after the (i+1)th failed attempt. The last entry repeats.
	Backoff     []time.Duration
	IsRetryable func(error) bool
}

// DefaultPolicy returns three attempts with a 1s, 3s, 5s schedule.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
		IsRetryable: DefaultIsRetryable,
	}
}

// PermanentError wraps an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err so that Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// DefaultIsRetryable retries everything except context errors and permanent errors.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

func (p Policy) backoff(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt]
}

// Do runs fn until it succeeds, the error is not retryable, attempts run out
// or ctx is cancelled.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.IsRetryable
	if retryable == nil {
		retryable = DefaultIsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("retry cancelled: %w", lastErr)
			}
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !retryable(err) {
			var perm *PermanentError
			if errors.As(err, &perm) {
				return zero, perm.Err
			}
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		wait := p.backoff(attempt)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled: %w", lastErr)
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max attempts exceeded (%d): %w", attempts, lastErr)
}
