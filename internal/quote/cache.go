package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"market-alerts/internal/models"
)

// DefaultCacheTTL is used when a cache is built with a non-positive TTL.
const DefaultCacheTTL = 20 * time.Second

// Cache stores quotes per (segment, symbol) for a bounded time.
type Cache interface {
	// Get returns the cached quote and whether it was a fresh hit.
	Get(ctx context.Context, key models.QuoteKey) (models.Quote, bool, error)
	Set(ctx context.Context, q models.Quote) error
}

// cacheKey renders the storage key for a quote.
func cacheKey(key models.QuoteKey) string {
	return fmt.Sprintf("quote:%s:%s", key.Segment, safe(key.Symbol))
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}

type memoryEntry struct {
	quote   models.Quote
	expires time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache. ttl <= 0 uses DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key models.QuoteKey) (models.Quote, bool, error) {
	k := cacheKey(key)
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return models.Quote{}, false, nil
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[k]; ok && cur.expires.Equal(e.expires) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return models.Quote{}, false, nil
	}
	return e.quote, true, nil
}

func (c *MemoryCache) Set(_ context.Context, q models.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(models.QuoteKey{Segment: q.Segment, Symbol: q.Symbol})] = memoryEntry{
		quote:   q,
		expires: c.now().Add(c.ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cachedQuote is the JSON form stored in Redis.
type cachedQuote struct {
	Segment       models.Segment `json:"segment"`
	Symbol        string         `json:"symbol"`
	Price         float64        `json:"price"`
	ChangePercent float64        `json:"change_percent"`
	Timestamp     time.Time      `json:"timestamp"`
}

// RedisCache shares quotes across processes through Redis with a per-key TTL.
type RedisCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewRedisCache creates a Redis-backed cache. ttl <= 0 uses DefaultCacheTTL;
// an empty namespace stores keys without a prefix.
func NewRedisCache(rdb *redis.Client, ttl time.Duration, namespace string) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl, namespace: namespace}
}

// NewRedisClient builds a client and checks connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *RedisCache) key(key models.QuoteKey) string {
	if c.namespace == "" {
		return cacheKey(key)
	}
	return c.namespace + ":" + cacheKey(key)
}

func (c *RedisCache) Get(ctx context.Context, key models.QuoteKey) (models.Quote, bool, error) {
	k := c.key(key)
	b, err := c.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Quote{}, false, nil
	}
	if err != nil {
		return models.Quote{}, false, fmt.Errorf("redis get %s: %w", k, err)
	}

	var cq cachedQuote
	if err := json.Unmarshal(b, &cq); err != nil {
		// Delete corrupted cache entry
		_ = c.rdb.Del(ctx, k).Err()
		return models.Quote{}, false, nil
	}
	return models.Quote{
		Segment:       cq.Segment,
		Symbol:        cq.Symbol,
		Price:         cq.Price,
		ChangePercent: cq.ChangePercent,
		Timestamp:     cq.Timestamp,
	}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, q models.Quote) error {
	b, err := json.Marshal(cachedQuote{
		Segment:       q.Segment,
		Symbol:        q.Symbol,
		Price:         q.Price,
		ChangePercent: q.ChangePercent,
		Timestamp:     q.Timestamp,
	})
	if err != nil {
		return err
	}
	k := c.key(models.QuoteKey{Segment: q.Segment, Symbol: q.Symbol})
	if err := c.rdb.Set(ctx, k, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}
