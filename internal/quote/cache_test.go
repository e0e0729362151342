package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/models"
)

var (
	aapl   = models.QuoteKey{Segment: models.SegmentStock, Symbol: "AAPL"}
	btc    = models.QuoteKey{Segment: models.SegmentCrypto, Symbol: "BTCUSDT"}
	tsNoon = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
)

func TestMemoryCache_TTL(t *testing.T) {
	t.Parallel()

	now := tsNoon
	c := NewMemoryCache(20 * time.Second)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, models.Quote{Segment: aapl.Segment, Symbol: aapl.Symbol, Price: 150}))

	q, hit, err := c.Get(ctx, aapl)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 150.0, q.Price)

	// same symbol, different segment is a different key
	_, hit, _ = c.Get(ctx, models.QuoteKey{Segment: models.SegmentCrypto, Symbol: "AAPL"})
	assert.False(t, hit)

	now = now.Add(19 * time.Second)
	_, hit, _ = c.Get(ctx, aapl)
	assert.True(t, hit)

	now = now.Add(time.Second)
	_, hit, _ = c.Get(ctx, aapl)
	assert.False(t, hit)
	assert.Equal(t, 0, c.Len())
}

func TestNewMemoryCache_DefaultTTL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultCacheTTL, NewMemoryCache(0).ttl)
	assert.Equal(t, DefaultCacheTTL, NewMemoryCache(-time.Second).ttl)
}

func TestRedisCache_Miniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewRedisCache(rdb, 20*time.Second, "market-alerts")
	ctx := context.Background()

	_, hit, err := c.Get(ctx, btc)
	require.NoError(t, err)
	assert.False(t, hit)

	in := models.Quote{Segment: btc.Segment, Symbol: btc.Symbol, Price: 64000.5, ChangePercent: 3.1, Timestamp: tsNoon}
	require.NoError(t, c.Set(ctx, in))
	assert.True(t, mr.Exists("market-alerts:quote:CRYPTO:BTCUSDT"))
	assert.Equal(t, 20*time.Second, mr.TTL("market-alerts:quote:CRYPTO:BTCUSDT"))

	out, hit, err := c.Get(ctx, btc)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, in.Price, out.Price)
	assert.Equal(t, in.ChangePercent, out.ChangePercent)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))

	mr.FastForward(21 * time.Second)
	_, hit, err = c.Get(ctx, btc)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	require.NoError(t, mr.Set("quote:STOCK:AAPL", "{broken"))
	c := NewRedisCache(rdb, 0, "")

	_, hit, err := c.Get(context.Background(), aapl)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("quote:STOCK:AAPL"))
}

func TestRedisCache_Errors(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	c := NewRedisCache(rdb, time.Minute, "ns")
	ctx := context.Background()

	mock.ExpectGet("ns:quote:STOCK:AAPL").SetErr(errors.New("connection refused"))
	_, hit, err := c.Get(ctx, aapl)
	assert.Error(t, err)
	assert.False(t, hit)

	mock.Regexp().ExpectSet("ns:quote:STOCK:AAPL", `.*`, time.Minute).SetErr(errors.New("READONLY"))
	err = c.Set(ctx, models.Quote{Segment: aapl.Segment, Symbol: aapl.Symbol, Price: 1})
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
