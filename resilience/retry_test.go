package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexusmind/orchestrator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
	calls := 0
	err := Retry(ctx, cfg, func() error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cfg := core.CircuitBreakerConfig{Enabled: true, Threshold: 2, Timeout: 20 * time.Millisecond, HalfOpenRequests: 1}
	cb := NewCircuitBreaker("test", cfg, nil)

	cb.RecordFailure()
	assert.Equal(t, "closed", cb.GetState())
	cb.RecordFailure()
	assert.Equal(t, "open", cb.GetState())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cfg := core.CircuitBreakerConfig{Enabled: true, Threshold: 1, Timeout: 5 * time.Millisecond, HalfOpenRequests: 1}
	cb := NewCircuitBreaker("test", cfg, nil)

	cb.RecordFailure()
	assert.Equal(t, "open", cb.GetState())

	time.Sleep(10 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, "half-open", cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.GetState())
}

func TestRetryWithCircuitBreakerShortCircuits(t *testing.T) {
	cfg := core.CircuitBreakerConfig{Enabled: true, Threshold: 1, Timeout: time.Hour, HalfOpenRequests: 1}
	cb := NewCircuitBreaker("test", cfg, nil)
	cb.RecordFailure() // opens the breaker

	calls := 0
	retryCfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	err := RetryWithCircuitBreaker(context.Background(), retryCfg, cb, func() error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls, "fn must never run while the breaker is open")
}
