// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	ferrors "github.com/jllopis/agentfactory/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetryAttempts(t *testing.T) {
	tests := []struct {
		name         string
		maxAttempts  int
		failures     int
		wantAttempts int
		wantErr      bool
		wantRetries  int
	}{
		{"first try", 3, 0, 1, false, 0},
		{"recovers on third", 3, 2, 3, false, 2},
		{"gives up", 2, 10, 2, true, 1},
		{"zero attempts still runs once", 0, 10, 1, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts, retries := 0, 0
			cfg := fastRetry().WithMaxAttempts(tt.maxAttempts).WithOnRetry(func(int, error, time.Duration) { retries++ })
			err := cfg.Do(context.Background(), func(context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return errors.New("store busy")
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err.Error() != "store busy" {
				t.Fatalf("expected the last error, got %v", err)
			}
			if attempts != tt.wantAttempts || retries != tt.wantRetries {
				t.Fatalf("attempts=%d retries=%d, want %d and %d", attempts, retries, tt.wantAttempts, tt.wantRetries)
			}
		})
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		return ferrors.New(ferrors.CodeInvalidQuery, "bad", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("typed non-recoverable errors must not retry, got %d attempts", attempts)
	}
}

func TestRetryRecoverableTypedError(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		return ferrors.New(ferrors.CodeTracerWrite, "locked", nil).WithRecoverable(true)
	})
	if err == nil || attempts != 3 {
		t.Fatalf("expected 3 attempts and an error, got %d, %v", attempts, err)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig().WithInitialDelay(time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := cfg.Do(ctx, func(context.Context) error {
		attempts++
		return errors.New("transient error")
	})
	if !ferrors.IsCode(err, ferrors.CodeCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	result, err := Retry(context.Background(), fastRetry(), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || result != "ok" || attempts != 2 {
		t.Fatalf("got %q, %v after %d attempts", result, err, attempts)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := Backoff(i, cfg); got != w*time.Millisecond {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w*time.Millisecond)
		}
	}

	cfg.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := Backoff(1, cfg)
		if d < 10*time.Millisecond || d > 30*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "store",
		FailureThreshold: 2,
		Cooldown:         time.Second,
		Now:              func() time.Time { return now },
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("closed breaker rejected call: %v", err)
		}
		cb.Record(boom)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Allow(); !ferrors.IsRecoverable(err) {
		t.Fatalf("expected recoverable rejection, got %v", err)
	}

	now = now.Add(time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe to be allowed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	cb.Record(nil)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second, Now: func() time.Time { return now }})
	cb.Record(errors.New("x"))
	now = now.Add(2 * time.Second)
	_ = cb.Allow()
	cb.Record(errors.New("still down"))
	if cb.State() != StateOpen {
		t.Fatalf("expected reopen, got %s", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset")
	}
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(rt, "initial"))
		maxDelay := time.Duration(rapid.Int64Range(int64(initial), int64(time.Minute)).Draw(rt, "max"))
		jitter := rapid.Float64Range(0, 1).Draw(rt, "jitter")
		n := rapid.IntRange(0, 200).Draw(rt, "attempt")

		cfg := RetryConfig{InitialDelay: initial, MaxDelay: maxDelay, Multiplier: 2, Jitter: jitter}
		got := Backoff(n, cfg)
		upper := time.Duration(float64(maxDelay) * (1 + jitter))
		if got < 0 || got > upper+1 {
			rt.Fatalf("Backoff(%d) = %v, want within [0, %v]", n, got, upper)
		}
	})
}
