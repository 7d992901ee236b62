package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the backoff policy used when retrying a failed
// operation. The defaults match the per-step retry policy: 250ms base delay
// doubling per attempt, ±20% jitter, capped at 5s.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig returns the per-step retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry calls fn until it succeeds, ctx is canceled, or config.MaxAttempts is
// exhausted. It returns the last error encountered. fn's own error decides
// nothing about whether the error is retryable — that classification happens
// in the caller; Retry purely implements the backoff schedule.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(withJitter(delay, config.JitterEnabled)):
			}
			delay = time.Duration(math.Min(
				float64(config.MaxDelay),
				float64(delay)*config.BackoffFactor,
			))
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}

	return lastErr
}

// JitteredDelay computes the backoff delay for the given zero-based attempt
// number under cfg, including jitter. Callers that need to interleave their
// own retry decision (e.g. fallback substitution between attempts) use this
// directly instead of the all-in-one Retry loop.
func JitteredDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(math.Min(float64(cfg.MaxDelay), float64(delay)*cfg.BackoffFactor))
	}
	return withJitter(delay, cfg.JitterEnabled)
}

// withJitter applies ±20% jitter to a base delay.
func withJitter(base time.Duration, enabled bool) time.Duration {
	if !enabled || base <= 0 {
		return base
	}
	jitter := 0.8 + rand.Float64()*0.4 // [0.8, 1.2)
	return time.Duration(float64(base) * jitter)
}

// RetryWithCircuitBreaker wraps Retry so that each attempt is gated by a
// CircuitBreaker: an open breaker short-circuits immediately without waiting
// out the backoff delay, and every attempt outcome is reported back to it.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	open := false
	err := Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			open = true
			cancel()
			return ErrCircuitOpen
		}
		err := fn()
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
		return err
	})
	if open {
		return ErrCircuitOpen
	}
	return err
}
