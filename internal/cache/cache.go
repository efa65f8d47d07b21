// Package cache is a two-tier exact-match response cache: a bounded in-memory
// tier in front of a durable sqlite tier. Lookup never fails; any tier error
// is logged and degrades to a miss, so a broken cache slows the system down
// but never takes it down.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/conduit-ai/conduit/internal/provider"
)

const (
	// DefaultFastMaxBytes bounds the in-memory tier size.
	DefaultFastMaxBytes = 50 << 20
	// DefaultFastMaxEntries bounds the in-memory tier entry count.
	DefaultFastMaxEntries = 1000
	// DefaultTTL is how long slow-tier entries stay valid.
	DefaultTTL = 7 * 24 * time.Hour
)

// Options configures a Cache. Zero fields take the defaults above.
type Options struct {
	// Dir is the directory for the slow-tier database file.
	Dir            string
	FastMaxBytes   int64
	FastMaxEntries int
	TTL            time.Duration
	// Logf receives swallowed tier errors. Nil discards them.
	Logf func(format string, args ...any)
}

// Cache is the two-tier response cache.
type Cache struct {
	fast   *fastTier
	slow   *slowTier
	logf   func(format string, args ...any)
	hits   atomic.Int64
	misses atomic.Int64
}

// New opens the cache, creating the slow-tier database under opts.Dir.
func New(opts Options) (*Cache, error) {
	if opts.FastMaxBytes <= 0 {
		opts.FastMaxBytes = DefaultFastMaxBytes
	}
	if opts.FastMaxEntries <= 0 {
		opts.FastMaxEntries = DefaultFastMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	slow, err := newSlowTier(filepath.Join(opts.Dir, "responses.db"), opts.TTL)
	if err != nil {
		return nil, err
	}

	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Cache{
		fast: newFastTier(opts.FastMaxBytes, opts.FastMaxEntries),
		slow: slow,
		logf: logf,
	}, nil
}

// Lookup returns the cached response for req, or nil on a miss. A slow-tier
// hit is promoted into the fast tier.
func (c *Cache) Lookup(req provider.Request) *provider.Response {
	fp := Fingerprint(req)

	if resp := c.fast.get(fp); resp != nil {
		c.hits.Add(1)
		return resp
	}

	resp, err := c.slow.get(fp)
	if err != nil {
		c.logf("cache: slow tier read failed: %v", err)
	}
	if resp == nil {
		c.misses.Add(1)
		return nil
	}

	c.fast.put(fp, *resp, time.Now())
	c.hits.Add(1)
	return resp
}

// Store writes the response through both tiers. Callers cache only complete
// one-shot responses; streamed output is never stored.
func (c *Cache) Store(req provider.Request, resp *provider.Response) {
	if resp == nil {
		return
	}
	fp := Fingerprint(req)
	c.fast.put(fp, *resp, time.Now())
	if err := c.slow.put(fp, *resp); err != nil {
		c.logf("cache: slow tier write failed: %v", err)
	}
}

// Stats is a point-in-time view of cache contents and effectiveness.
type Stats struct {
	FastEntries int   `json:"fast_entries"`
	FastBytes   int64 `json:"fast_bytes"`
	SlowEntries int64 `json:"slow_entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
}

// HitRate is hits over total lookups, 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns current counters and tier sizes.
func (c *Cache) Stats() Stats {
	entries, bytes := c.fast.stats()
	slowN, err := c.slow.count()
	if err != nil {
		c.logf("cache: slow tier count failed: %v", err)
	}
	return Stats{
		FastEntries: entries,
		FastBytes:   bytes,
		SlowEntries: slowN,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
	}
}

// InvalidateAll empties both tiers.
func (c *Cache) InvalidateAll() {
	c.fast.clear()
	if err := c.slow.clear(); err != nil {
		c.logf("cache: slow tier clear failed: %v", err)
	}
}

// ClearFast empties only the in-memory tier, keeping durable entries. Used
// under memory pressure.
func (c *Cache) ClearFast() { c.fast.clear() }

// SweepExpired removes expired slow-tier rows and reports how many went.
func (c *Cache) SweepExpired() int64 {
	n, err := c.slow.sweepExpired()
	if err != nil {
		c.logf("cache: sweep failed: %v", err)
	}
	return n
}

// Close releases the slow-tier database.
func (c *Cache) Close() error { return c.slow.close() }
