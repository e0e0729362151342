package quote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/internal/resilience"
)

// fakeBackend serves prices from a map and counts calls.
type fakeBackend struct {
	segment models.Segment
	mu      sync.Mutex
	prices  map[string]float64
	errs    map[string]error
	calls   int32
	delay   time.Duration

	inFlight    int32
	maxInFlight int32
}

func (f *fakeBackend) Segment() models.Segment { return f.segment }

func (f *fakeBackend) Fetch(ctx context.Context, symbol string) (models.Quote, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.Quote{}, apperrors.NewQuoteError(string(f.segment), symbol,
				errors.Join(apperrors.ErrQuoteUnavailable, apperrors.ErrTimeout, ctx.Err()))
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[symbol]; ok {
		return models.Quote{}, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return models.Quote{}, apperrors.NewQuoteError(string(f.segment), symbol, apperrors.ErrSymbolNotFound)
	}
	return models.Quote{Segment: f.segment, Symbol: symbol, Price: p, Timestamp: tsNoon}, nil
}

func testSourceConfig() SourceConfig {
	cfg := DefaultSourceConfig()
	cfg.InterCallDelay = 0
	cfg.CallTimeout = time.Second
	return cfg
}

func TestSource_CacheHitSkipsBackend(t *testing.T) {
	t.Parallel()

	stock := &fakeBackend{segment: models.SegmentStock, prices: map[string]float64{"AAPL": 150}}
	src := NewSource([]Backend{stock}, NewMemoryCache(time.Minute), testSourceConfig(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		q, err := src.Get(context.Background(), aapl)
		require.NoError(t, err)
		assert.Equal(t, 150.0, q.Price)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&stock.calls))
}

func TestSource_UnknownSegment(t *testing.T) {
	t.Parallel()

	src := NewSource(nil, nil, testSourceConfig(), zerolog.Nop())
	_, err := src.Get(context.Background(), aapl)
	assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
}

func TestSource_CallTimeout(t *testing.T) {
	t.Parallel()

	slow := &fakeBackend{segment: models.SegmentStock, prices: map[string]float64{"AAPL": 1}, delay: time.Second}
	cfg := testSourceConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	src := NewSource([]Backend{slow}, nil, cfg, zerolog.Nop())

	start := time.Now()
	_, err := src.Get(context.Background(), aapl)
	assert.True(t, apperrors.IsTimeout(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSource_BreakerOpensPerSegment(t *testing.T) {
	t.Parallel()

	down := errors.New("502")
	stock := &fakeBackend{
		segment: models.SegmentStock,
		errs:    map[string]error{"AAPL": apperrors.NewQuoteError("STOCK", "AAPL", errors.Join(apperrors.ErrQuoteUnavailable, down))},
	}
	crypto := &fakeBackend{segment: models.SegmentCrypto, prices: map[string]float64{"BTCUSDT": 64000}}

	cfg := testSourceConfig()
	cfg.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour}
	src := NewSource([]Backend{stock, crypto}, nil, cfg, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := src.Get(ctx, aapl)
		assert.ErrorIs(t, err, down)
	}
	_, err := src.Get(ctx, aapl)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stock.calls))

	q, err := src.Get(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, 64000.0, q.Price)

	stats := src.BreakerStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "quotes:CRYPTO", stats[0].Name)
	assert.Equal(t, resilience.CircuitOpen, stats[1].State)
}

func TestSource_UnknownSymbolDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	stock := &fakeBackend{segment: models.SegmentStock, prices: map[string]float64{}}
	cfg := testSourceConfig()
	cfg.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour}
	src := NewSource([]Backend{stock}, nil, cfg, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := src.Get(context.Background(), aapl)
		assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&stock.calls))
}

func TestSource_BatchIsolatesFailuresAndDedupes(t *testing.T) {
	t.Parallel()

	stock := &fakeBackend{segment: models.SegmentStock, prices: map[string]float64{"AAPL": 150, "MSFT": 400}}
	crypto := &fakeBackend{segment: models.SegmentCrypto, prices: map[string]float64{"BTCUSDT": 64000}}
	src := NewSource([]Backend{stock, crypto}, NewMemoryCache(time.Minute), testSourceConfig(), zerolog.Nop())

	msft := models.QuoteKey{Segment: models.SegmentStock, Symbol: "MSFT"}
	bad := models.QuoteKey{Segment: models.SegmentStock, Symbol: "NOPE"}

	b := src.Batch(context.Background(), []models.QuoteKey{aapl, aapl, msft, bad, btc, aapl})
	assert.Len(t, b.Quotes, 3)
	assert.Len(t, b.Failures, 1)
	// AAPL, MSFT and NOPE each reach the backend once
	assert.Equal(t, int32(3), atomic.LoadInt32(&stock.calls))

	q, err := b.Lookup(msft)
	require.NoError(t, err)
	assert.Equal(t, 400.0, q.Price)

	_, err = b.Lookup(bad)
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)

	_, err = b.Lookup(models.QuoteKey{Segment: models.SegmentCrypto, Symbol: "ETHUSDT"})
	assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
}

func TestSource_BatchConcurrencyCap(t *testing.T) {
	t.Parallel()

	prices := map[string]float64{}
	var keys []models.QuoteKey
	for _, s := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		prices[s] = 10
		keys = append(keys, models.QuoteKey{Segment: models.SegmentStock, Symbol: s})
	}
	stock := &fakeBackend{segment: models.SegmentStock, prices: prices, delay: 20 * time.Millisecond}

	cfg := testSourceConfig()
	cfg.Concurrency = 2
	src := NewSource([]Backend{stock}, nil, cfg, zerolog.Nop())

	b := src.Batch(context.Background(), keys)
	assert.Len(t, b.Quotes, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&stock.maxInFlight), int32(2))
}

func TestSource_InterCallDelay(t *testing.T) {
	t.Parallel()

	stock := &fakeBackend{segment: models.SegmentStock, prices: map[string]float64{"A": 1, "B": 1, "C": 1}}
	cfg := testSourceConfig()
	cfg.InterCallDelay = 30 * time.Millisecond
	src := NewSource([]Backend{stock}, nil, cfg, zerolog.Nop())

	start := time.Now()
	for _, s := range []string{"A", "B", "C"} {
		_, err := src.Get(context.Background(), models.QuoteKey{Segment: models.SegmentStock, Symbol: s})
		require.NoError(t, err)
	}
	// burst of one: the second and third calls each wait a full interval
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}
