package resilience

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// CircuitBreakerRegistry hands out one breaker per name, all sharing a config.
type CircuitBreakerRegistry struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.config)
		r.breakers[name] = cb
	}
	return cb
}

// AllStats returns statistics for all breakers, sorted by name.
func (r *CircuitBreakerRegistry) AllStats() []CircuitBreakerStats {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	stats := make([]CircuitBreakerStats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// RetryWithBackoff retries a function with exponential backoff.
type RetryWithBackoff struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter adds up to 25% to each delay.
	Jitter bool
	// OnRetry is called before each sleep with the failed attempt number (1-based).
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryWithBackoff returns default retry configuration.
func DefaultRetryWithBackoff() RetryWithBackoff {
	return RetryWithBackoff{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// delay returns the sleep after the given failed attempt (0-based).
func (r RetryWithBackoff) delay(attempt int) time.Duration {
	d := float64(r.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= r.BackoffFactor
		if r.MaxDelay > 0 && d >= float64(r.MaxDelay) {
			d = float64(r.MaxDelay)
			break
		}
	}
	sleep := time.Duration(d)
	if r.Jitter && sleep > 0 {
		sleep += time.Duration(rand.Int63n(int64(sleep)/4 + 1))
	}
	return sleep
}

// Execute calls fn until it succeeds, attempts run out or ctx is done. It returns the last
// error from fn, or ctx's error if fn never ran.
func (r RetryWithBackoff) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(r.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		sleep := r.delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, lastErr, sleep)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	if lastErr == nil {
		return ctx.Err()
	}
	return lastErr
}
