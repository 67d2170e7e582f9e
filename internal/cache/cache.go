package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Freshness classifies the result of a cache read.
type Freshness int

const (
	// Miss: the key is absent or expired past its grace window.
	Miss Freshness = iota
	// Hit: the entry is within its TTL.
	Hit
	// Stale: the entry is past its TTL but within the grace window. The
	// value is served and a background revalidation is scheduled.
	Stale
)

// Producer computes a fresh value for a key on miss or revalidation.
type Producer func(ctx context.Context) (any, error)

// refreshTimeout bounds background revalidations so they cannot pile up
// behind a wedged producer.
const refreshTimeout = 60 * time.Second

// Config describes one cache tier.
type Config struct {
	Name  string // used in keys, logs and stats
	TTL   time.Duration
	Grace time.Duration
}

// Stats are cumulative counters for one cache.
type Stats struct {
	Hits      int64 `json:"hits"`
	StaleHits int64 `json:"stale_hits"`
	Misses    int64 `json:"misses"`
	Errors    int64 `json:"errors"`
}

// Cache is a TTL + stale-while-revalidate key-value cache. Backend failures
// degrade to an in-process map with identical semantics; they are logged and
// never surfaced to callers.
type Cache struct {
	name     string
	ttl      time.Duration
	grace    time.Duration
	backend  Backend
	fallback *MemoryBackend

	mu         sync.Mutex
	refreshing map[string]struct{}

	hits      atomic.Int64
	staleHits atomic.Int64
	misses    atomic.Int64
	errs      atomic.Int64

	now func() time.Time // overridable in tests
}

// New creates a cache over the given backend. A nil backend uses the
// in-process map directly.
func New(cfg Config, backend Backend) *Cache {
	fallback := NewMemoryBackend()
	if backend == nil {
		backend = fallback
	}
	return &Cache{
		name:       cfg.Name,
		ttl:        cfg.TTL,
		grace:      cfg.Grace,
		backend:    backend,
		fallback:   fallback,
		refreshing: make(map[string]struct{}),
		now:        time.Now,
	}
}

// Get reads a key and classifies its freshness. Stale reads do not schedule
// revalidation here; only GetOrCompute knows the producer.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, Freshness) {
	e, err := c.read(ctx, key)
	if err != nil {
		return nil, Miss
	}
	switch c.classify(e) {
	case Hit:
		c.hits.Add(1)
		return e.Value, Hit
	case Stale:
		c.staleHits.Add(1)
		return e.Value, Stale
	default:
		c.misses.Add(1)
		return nil, Miss
	}
}

// Set stores a value with the given TTL. A zero ttl uses the cache default.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache %s: marshal value: %w", c.name, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	e := Entry{Value: data, CachedAt: now, ExpiresAt: now.Add(ttl)}
	c.write(ctx, key, e)
	return nil
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.errs.Add(1)
		slog.Warn("cache invalidate failed", "cache", c.name, "key", key, "error", err)
	}
	c.fallback.Delete(ctx, key)
}

// InvalidateByPrefix removes every key with the given prefix. Used for
// webhook-driven invalidation of stale provider data (e.g. all cached
// results of one tool type).
func (c *Cache) InvalidateByPrefix(ctx context.Context, prefix string) int {
	return c.invalidateMatching(ctx, prefix, func(string) bool { return true })
}

// InvalidateByPattern removes every key matching a glob pattern, e.g.
// "tool:email_*".
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) int {
	return c.invalidateMatching(ctx, "", func(key string) bool {
		ok, err := doublestar.Match(pattern, key)
		return err == nil && ok
	})
}

func (c *Cache) invalidateMatching(ctx context.Context, prefix string, match func(string) bool) int {
	removed := 0
	for _, backend := range []Backend{c.backend, c.fallback} {
		keys, err := backend.Scan(ctx, prefix)
		if err != nil {
			c.errs.Add(1)
			slog.Warn("cache scan failed", "cache", c.name, "error", err)
			continue
		}
		for _, k := range keys {
			if match(k) {
				if err := backend.Delete(ctx, k); err == nil {
					removed++
				}
			}
		}
		if backend == c.fallback {
			break
		}
	}
	return removed
}

// GetOrCompute implements the freshness contract: fresh entries return
// immediately; stale-but-in-grace entries return immediately while the
// producer refreshes in the background; expired or missing entries await the
// producer. A producer failure on the miss path propagates and is never
// cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, producer Producer, ttl time.Duration) ([]byte, Freshness, error) {
	e, err := c.read(ctx, key)
	if err == nil {
		switch c.classify(e) {
		case Hit:
			c.hits.Add(1)
			return e.Value, Hit, nil
		case Stale:
			c.staleHits.Add(1)
			c.scheduleRefresh(key, producer, ttl)
			return e.Value, Stale, nil
		}
	}

	c.misses.Add(1)
	data, err := c.compute(ctx, key, producer, ttl)
	if err != nil {
		return nil, Miss, err
	}
	return data, Miss, nil
}

// Refresh revalidates key in the background, deduplicated per key. For
// callers that classify with Get and only construct a producer once they
// know the entry is stale.
func (c *Cache) Refresh(key string, producer Producer, ttl time.Duration) {
	c.scheduleRefresh(key, producer, ttl)
}

// ComputeAndStore always runs the producer and writes the result through,
// skipping the lookup. Used by the completion cache when sampling
// temperature is above the bypass threshold: the response is too random to
// serve from cache, but a future identical request may still benefit.
func (c *Cache) ComputeAndStore(ctx context.Context, key string, producer Producer, ttl time.Duration) ([]byte, error) {
	return c.compute(ctx, key, producer, ttl)
}

func (c *Cache) compute(ctx context.Context, key string, producer Producer, ttl time.Duration) ([]byte, error) {
	value, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cache %s: marshal produced value: %w", c.name, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	c.write(ctx, key, Entry{Value: data, CachedAt: now, ExpiresAt: now.Add(ttl)})
	return data, nil
}

// scheduleRefresh revalidates key in the background, at most once at a time
// per key. Failures are logged, never surfaced.
func (c *Cache) scheduleRefresh(key string, producer Producer, ttl time.Duration) {
	c.mu.Lock()
	if _, inflight := c.refreshing[key]; inflight {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		if _, err := c.compute(ctx, key, producer, ttl); err != nil {
			slog.Warn("cache background refresh failed",
				"cache", c.name, "key", key, "error", err)
		}
	}()
}

// read tries the configured backend, degrading to the in-process fallback on
// backend errors (other than a plain miss).
func (c *Cache) read(ctx context.Context, key string) (Entry, error) {
	e, err := c.backend.Get(ctx, key)
	if err == nil {
		return e, nil
	}
	if err != ErrNotFound {
		c.errs.Add(1)
		slog.Warn("cache backend read failed, using fallback",
			"cache", c.name, "error", err)
		return c.fallback.Get(ctx, key)
	}
	// Primary miss: entries written during a prior degraded period may only
	// exist in the fallback.
	if c.backend != Backend(c.fallback) {
		return c.fallback.Get(ctx, key)
	}
	return Entry{}, ErrNotFound
}

func (c *Cache) write(ctx context.Context, key string, e Entry) {
	if err := c.backend.Set(ctx, key, e); err != nil {
		c.errs.Add(1)
		slog.Warn("cache backend write failed, using fallback",
			"cache", c.name, "error", err)
		c.fallback.Set(ctx, key, e)
	}
}

func (c *Cache) classify(e Entry) Freshness {
	now := c.now()
	if now.Before(e.ExpiresAt) {
		return Hit
	}
	if now.Before(e.ExpiresAt.Add(c.grace)) {
		return Stale
	}
	return Miss
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		StaleHits: c.staleHits.Load(),
		Misses:    c.misses.Load(),
		Errors:    c.errs.Load(),
	}
}

// Name returns the cache tier name.
func (c *Cache) Name() string { return c.name }

// Decode unmarshals a cached value into T.
func Decode[T any](raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
