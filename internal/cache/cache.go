// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

// Package cache provides an in-memory TTL cache for upstream API
// responses. The sync engine keeps three instances with different
// default TTLs: account metadata (slow-moving), entity lists
// (campaigns, ad sets, ads) and insights. Expired entries are removed
// lazily on read and in bulk by a janitor that the owner runs
// explicitly via Cleanup, so cache lifetime is tied to the process
// lifecycle rather than to hidden timers.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/adsync/internal/metrics"
)

// entry is a single cached value with its expiry deadline.
type entry struct {
	value     any
	expiresAt time.Time
}

// expired reports whether the entry is past its deadline.
func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a thread-safe TTL cache keyed by string.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]entry
	defaultTTL time.Duration
	class      string

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache with the given default TTL. The class label is
// used for metrics only.
func New(defaultTTL time.Duration, class string) *Cache {
	return &Cache{
		items:      make(map[string]entry),
		defaultTTL: defaultTTL,
		class:      class,
	}
}

// GenerateKey builds a cache key from the resource name and its
// parameters. Parameters are joined in the order given, so callers must
// pass them in a stable order.
func GenerateKey(resource string, params ...string) string {
	if len(params) == 0 {
		return resource
	}
	return resource + ":" + strings.Join(params, ":")
}

// Get returns the cached value for key, or (nil, false) when the key is
// absent or has expired. Expired entries are removed on access.
func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.miss()
		return nil, false
	}

	if e.expired(now) {
		c.mu.Lock()
		// Re-check under the write lock in case the entry was replaced.
		if cur, still := c.items[key]; still && cur.expired(now) {
			delete(c.items, key)
			c.evictions++
			metrics.CacheEvictions.WithLabelValues(c.class).Inc()
		}
		c.mu.Unlock()
		c.miss()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	metrics.CacheHits.WithLabelValues(c.class).Inc()
	return e.value, true
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	metrics.CacheMisses.WithLabelValues(c.class).Inc()
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL, overriding
// the default. Insights calls use this to cache empty result sets for a
// shorter period than populated ones.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key from the cache if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
}

// Cleanup removes all expired entries and returns how many were
// evicted. The janitor service calls this on its interval; tests call
// it directly.
func (c *Cache) Cleanup() int {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
			removed++
		}
	}
	c.evictions += uint64(removed)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues(c.class).Add(float64(removed))
	}
	return removed
}

// Len returns the number of entries, including any not yet evicted
// expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   len(c.items),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Janitor periodically sweeps expired entries from a set of caches
// until its context is cancelled. It implements suture.Service so the
// supervision tree owns its lifetime.
type Janitor struct {
	caches   []*Cache
	interval time.Duration
}

// NewJanitor creates a janitor sweeping the given caches on interval.
func NewJanitor(interval time.Duration, caches ...*Cache) *Janitor {
	return &Janitor{caches: caches, interval: interval}
}

// Serve runs the sweep loop until ctx is cancelled.
func (j *Janitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, c := range j.caches {
				c.Cleanup()
			}
		}
	}
}

func (j *Janitor) String() string { return "cache-janitor" }
