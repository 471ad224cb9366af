// Package retry provides exponential backoff for operations that fail
// transiently, such as the tile compiler or archive validation racing a
// filesystem flush.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryableError wraps an error to indicate it should trigger a retry.
// [Do] returns any other error immediately.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as retryable. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with [Retryable].
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// Policy describes how often and how slowly to retry.
type Policy struct {
	Attempts   int           // total attempts including the first; <1 means 1
	Delay      time.Duration // delay before the second attempt
	MaxDelay   time.Duration // cap on any single delay; 0 means uncapped
	Multiplier float64       // growth per attempt; <1 means constant delay
}

// Backoff returns the delay to wait after the n-th failed attempt (1-based).
func (p Policy) Backoff(n int) time.Duration {
	d := float64(p.Delay)
	for i := 1; i < n && p.Multiplier > 1; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are used up. It returns the last error, or the context
// error if ctx is cancelled while waiting.
func Do(ctx context.Context, p Policy, fn func() error) error {
	attempts := max(p.Attempts, 1)
	var lastErr error

	for n := 1; n <= attempts; n++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if n == attempts {
			break
		}
		if err := Sleep(ctx, p.Backoff(n)); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", n+1, err)
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
