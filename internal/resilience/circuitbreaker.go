// Package resilience provides the circuit breaker that guards quote backends,
// the retry helper used by startup probes and the health monitor.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN" // one probe call allowed through
)

// ErrCircuitOpen is returned without calling the guarded function while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
	// IsFailure decides whether an error counts against the backend. nil counts every error.
	IsFailure func(error) bool
	// OnStateChange, if set, is called after every transition, outside the breaker's lock.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults used for quote backends.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreakerStats is a point-in-time view of one breaker.
type CircuitBreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalRequests   int64        `json:"total_requests"`
	TotalFailures   int64        `json:"total_failures"`
	TotalRejected   int64        `json:"total_rejected"`
	CurrentFailures int          `json:"current_failures"`
	LastFailureTime time.Time    `json:"last_failure_time,omitempty"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// CircuitBreaker stops calling a backend after repeated failures and probes it again after Timeout.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu    sync.Mutex
	stats CircuitBreakerStats
	// half-open successes seen so far
	probes int
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		stats:  CircuitBreakerStats{Name: name, State: CircuitClosed, LastStateChange: time.Now()},
	}
}

// Execute runs fn unless the circuit is open. fn receives ctx and must honour it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithResult(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithResult is Execute for functions that return a value.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	cb.settle(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	cb.stats.TotalRequests++
	if cb.stats.State != CircuitOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.now().Sub(cb.stats.LastFailureTime) < cb.config.Timeout {
		cb.stats.TotalRejected++
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	from := cb.moveTo(CircuitHalfOpen)
	cb.mu.Unlock()
	cb.notify(from, CircuitHalfOpen)
	return nil
}

func (cb *CircuitBreaker) settle(err error) {
	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))

	cb.mu.Lock()
	from, to := cb.stats.State, cb.stats.State
	if failed {
		cb.stats.TotalFailures++
		cb.stats.LastFailureTime = cb.now()
		cb.stats.CurrentFailures++
		if from == CircuitHalfOpen || cb.stats.CurrentFailures >= cb.config.FailureThreshold {
			to = CircuitOpen
		}
	} else {
		cb.stats.CurrentFailures = 0
		if from == CircuitHalfOpen {
			cb.probes++
			if cb.probes >= cb.config.SuccessThreshold {
				to = CircuitClosed
			}
		}
	}
	if to != from {
		cb.moveTo(to)
	}
	cb.mu.Unlock()

	if to != from {
		cb.notify(from, to)
	}
}

// moveTo switches state and returns the previous one. Caller holds mu.
func (cb *CircuitBreaker) moveTo(state CircuitState) CircuitState {
	from := cb.stats.State
	cb.stats.State = state
	cb.stats.LastStateChange = cb.now()
	cb.stats.CurrentFailures = 0
	cb.probes = 0
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats.State
}

// Stats returns a copy of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}
