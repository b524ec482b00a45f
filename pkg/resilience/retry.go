// SPDX-License-Identifier: Apache-2.0
// Package resilience provides bounded retry and circuit breaking for calls
// into collaborators that may be slow or unavailable, such as the span store.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter in [0,1]; 0.1 means ±10% of the computed delay.
	Jitter float64

	// IsRecoverable decides whether an error is worth another attempt.
	// Nil means typed errors follow their Recoverable flag and untyped
	// errors are always retried.
	IsRecoverable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the retry policy used for span writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do runs fn until it succeeds, returns a non-recoverable error, or the
// attempts run out. The last error is returned. Cancellation during backoff
// returns a CodeCancelled error wrapping the last failure.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is Do for functions that produce a value.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = isRecoverableDefault
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt-1, rc)
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, lastErr, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.New(errors.CodeCancelled, "cancelled during retry", lastErr).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !recoverable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// Backoff returns the delay before retry number n (0-based).
func Backoff(n int, rc RetryConfig) time.Duration {
	mult := rc.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	raw := float64(rc.InitialDelay) * math.Pow(mult, float64(n))
	if limit := float64(rc.MaxDelay); rc.MaxDelay > 0 && raw > limit {
		raw = limit
	}
	if raw > math.MaxInt64 {
		raw = math.MaxInt64
	}
	delay := time.Duration(raw)
	if rc.Jitter > 0 {
		spread := float64(delay) * rc.Jitter
		delay += time.Duration(spread * (2*rand.Float64() - 1))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if code := errors.CodeOf(err); code != "" {
		return errors.IsRecoverable(err)
	}
	return true
}
