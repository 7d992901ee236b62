package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nexusmind/orchestrator/core"
)

// ErrCircuitOpen is returned when a request is rejected because the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState is one of closed, open, half-open.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is a consecutive-failure threshold breaker: it opens after
// Threshold consecutive failures, waits Timeout before probing again in
// half-open state, and closes again after HalfOpenRequests consecutive
// successes in that state. This is deliberately simpler than a sliding-window
// error-rate breaker since every call site here guards a single downstream
// collaborator (one tool, the LLM, one persistence backend) rather than a
// fleet behind a shared name.
type CircuitBreaker struct {
	name   string
	config core.CircuitBreakerConfig
	logger core.Logger

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	halfOpenOK      int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a breaker named for logging/metrics purposes.
func NewCircuitBreaker(name string, config core.CircuitBreakerConfig, logger core.Logger) *CircuitBreaker {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

func (cb *CircuitBreaker) CanExecute() bool {
	if !cb.config.Enabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.Timeout {
			cb.transitionLocked(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenRequests {
			cb.transitionLocked(StateClosed)
		}
	case StateClosed:
		cb.consecutiveFail = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	case StateClosed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.config.Threshold {
			cb.transitionLocked(StateOpen)
		}
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.halfOpenOK = 0
	case StateHalfOpen:
		cb.halfOpenOK = 0
	case StateClosed:
		cb.consecutiveFail = 0
		cb.halfOpenOK = 0
	}
	if from != to {
		cb.logger.Info("circuit breaker state change", map[string]interface{}{
			"name": cb.name, "from": from.String(), "to": to.String(),
		})
	}
}

func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return cb.Execute(ctx, func() error { return err })
	case <-ctx.Done():
		cb.RecordFailure()
		return ctx.Err()
	}
}

func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":             cb.name,
		"state":            cb.state.String(),
		"consecutive_fail": cb.consecutiveFail,
		"half_open_ok":     cb.halfOpenOK,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}

var _ core.CircuitBreaker = (*CircuitBreaker)(nil)
