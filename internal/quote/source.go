package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/internal/resilience"
)

// SourceConfig tunes how a Source talks to its backends.
type SourceConfig struct {
	// CallTimeout bounds each backend call.
	CallTimeout time.Duration
	// InterCallDelay is the minimum spacing between backend calls across all segments.
	InterCallDelay time.Duration
	// Concurrency caps in-flight fetches during Batch.
	Concurrency int
	Breaker     resilience.CircuitBreakerConfig
}

// DefaultSourceConfig returns the engine defaults.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		CallTimeout:    10 * time.Second,
		InterCallDelay: 250 * time.Millisecond,
		Concurrency:    4,
		Breaker:        resilience.DefaultCircuitBreakerConfig(),
	}
}

// Source resolves quotes through a cache, falling back to the segment's backend.
type Source struct {
	backends map[models.Segment]Backend
	cache    Cache
	limiter  *rate.Limiter
	breakers *resilience.CircuitBreakerRegistry
	cfg      SourceConfig
	logger   zerolog.Logger
}

// NewSource builds a Source over the given backends. A nil cache disables caching.
func NewSource(backends []Backend, cache Cache, cfg SourceConfig, logger zerolog.Logger) *Source {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Breaker.IsFailure == nil {
		// an unknown symbol says nothing about backend health
		cfg.Breaker.IsFailure = func(err error) bool {
			return !errors.Is(err, apperrors.ErrSymbolNotFound)
		}
	}
	if cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
			ev := logger.Info()
			if to == resilience.CircuitOpen {
				ev = logger.Warn()
			}
			ev.Str("breaker", name).Str("from", string(from)).Str("to", string(to)).
				Msg("Quote backend circuit changed state")
		}
	}

	limit := rate.Inf
	if cfg.InterCallDelay > 0 {
		limit = rate.Every(cfg.InterCallDelay)
	}

	byKind := make(map[models.Segment]Backend, len(backends))
	for _, b := range backends {
		byKind[b.Segment()] = b
	}

	return &Source{
		backends: byKind,
		cache:    cache,
		limiter:  rate.NewLimiter(limit, 1),
		breakers: resilience.NewCircuitBreakerRegistry(cfg.Breaker),
		cfg:      cfg,
		logger:   logger,
	}
}

func breakerName(segment models.Segment) string {
	return "quotes:" + string(segment)
}

// Get returns a quote for key, served from cache when fresh.
func (s *Source) Get(ctx context.Context, key models.QuoteKey) (models.Quote, error) {
	backend, ok := s.backends[key.Segment]
	if !ok {
		return models.Quote{}, apperrors.NewQuoteError(string(key.Segment), key.Symbol,
			fmt.Errorf("%w: no backend for segment", apperrors.ErrQuoteUnavailable))
	}

	if s.cache != nil {
		q, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Debug().Err(err).Str("key", key.String()).Msg("Quote cache read failed; treating as miss")
		} else if hit {
			return q, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return models.Quote{}, apperrors.NewQuoteError(string(key.Segment), key.Symbol,
			fmt.Errorf("%w: %w", apperrors.ErrQuoteUnavailable, err))
	}

	cb := s.breakers.Get(breakerName(key.Segment))
	q, err := resilience.ExecuteWithResult(ctx, cb, func(ctx context.Context) (models.Quote, error) {
		callCtx := ctx
		if s.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
			defer cancel()
		}
		return backend.Fetch(callCtx, key.Symbol)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return models.Quote{}, apperrors.NewQuoteError(string(key.Segment), key.Symbol,
				fmt.Errorf("%w: %w", apperrors.ErrQuoteUnavailable, err))
		}
		return models.Quote{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, q); err != nil {
			s.logger.Warn().Err(err).Str("key", key.String()).Msg("Quote cache write failed")
		}
	}
	return q, nil
}

// Batch is the result of fetching many keys. Every requested key lands in exactly one map.
type Batch struct {
	Quotes   map[models.QuoteKey]models.Quote
	Failures map[models.QuoteKey]error
}

// Lookup returns the quote for key or the reason it is missing.
func (b Batch) Lookup(key models.QuoteKey) (models.Quote, error) {
	if q, ok := b.Quotes[key]; ok {
		return q, nil
	}
	if err, ok := b.Failures[key]; ok {
		return models.Quote{}, err
	}
	return models.Quote{}, apperrors.NewQuoteError(string(key.Segment), key.Symbol,
		fmt.Errorf("%w: not requested", apperrors.ErrQuoteUnavailable))
}

// Batch fetches the distinct keys with bounded concurrency. One key failing never affects another.
func (s *Source) Batch(ctx context.Context, keys []models.QuoteKey) Batch {
	out := Batch{
		Quotes:   make(map[models.QuoteKey]models.Quote),
		Failures: make(map[models.QuoteKey]error),
	}

	seen := make(map[models.QuoteKey]struct{}, len(keys))
	unique := make([]models.QuoteKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, k := range unique {
		wg.Add(1)
		go func(k models.QuoteKey) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				out.Failures[k] = apperrors.NewQuoteError(string(k.Segment), k.Symbol,
					fmt.Errorf("%w: %w", apperrors.ErrQuoteUnavailable, ctx.Err()))
				mu.Unlock()
				return
			}

			q, err := s.Get(ctx, k)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failures[k] = err
				return
			}
			out.Quotes[k] = q
		}(k)
	}
	wg.Wait()

	if len(out.Failures) > 0 {
		s.logger.Debug().
			Int("requested", len(unique)).
			Int("failed", len(out.Failures)).
			Msg("Quote batch completed with failures")
	}
	return out
}

// BreakerStats returns per-segment circuit breaker statistics.
func (s *Source) BreakerStats() []resilience.CircuitBreakerStats {
	return s.breakers.AllStats()
}
