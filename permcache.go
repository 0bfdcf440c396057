// permcache.go: TTL cache for permission decisions.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// Decision is the outcome of a permission evaluation.
type Decision struct {
	Granted         bool     `json:"granted"`
	Reason          string   `json:"reason,omitempty"`
	MatchedPolicies []string `json:"matched_policies,omitempty"`
}

// PermCacheStats is a snapshot of cache effectiveness counters.
type PermCacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

type permEntry struct {
	decision Decision
	subject  string
	storedAt time.Time
}

type permKey struct {
	subject  string
	resource string
	action   string
}

// DefaultPermCacheCapacity bounds the cache when no capacity is given.
const DefaultPermCacheCapacity = 10000

// PermCache memoizes permission decisions for a fixed TTL. When full, the
// oldest entry is evicted to admit a new one. An expired entry is logically
// absent: lookups report a miss and leave the physical removal to
// CleanupExpired, so concurrent reads share the read lock.
type PermCache struct {
	mu       sync.RWMutex
	entries  map[permKey]*permEntry
	capacity int
	ttl      time.Duration
	hits     atomic.Uint64
	misses   atomic.Uint64
	evicted  atomic.Uint64
	now      func() time.Time
}

// NewPermCache creates a cache holding up to capacity decisions for ttl.
func NewPermCache(capacity int, ttl time.Duration) *PermCache {
	if capacity <= 0 {
		capacity = DefaultPermCacheCapacity
	}
	return &PermCache{
		entries:  make(map[permKey]*permEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      timecache.CachedTime,
	}
}

// Get returns the cached decision for the triple, if present and fresh.
func (c *PermCache) Get(subject, resource, action string) (Decision, bool) {
	key := permKey{subject, resource, action}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		c.misses.Add(1)
		return Decision{}, false
	}
	c.hits.Add(1)
	return e.decision, true
}

// Put stores a decision for the triple, evicting the oldest entry when the
// cache is at capacity.
func (c *PermCache) Put(subject, resource, action string, d Decision) {
	key := permKey{subject, resource, action}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = &permEntry{decision: d, subject: subject, storedAt: c.now()}
}

func (c *PermCache) evictOldestLocked() {
	var oldestKey permKey
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evicted.Add(1)
	}
}

// InvalidateSubject drops every cached decision for the subject and reports
// how many were removed. Called when the subject's policies change.
func (c *PermCache) InvalidateSubject(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.subject == subject {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// InvalidateAll empties the cache.
func (c *PermCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[permKey]*permEntry, c.capacity)
}

// CleanupExpired removes entries past their TTL and reports how many.
func (c *PermCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *PermCache) Stats() PermCacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return PermCacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicted.Load(),
		Size:      size,
	}
}
