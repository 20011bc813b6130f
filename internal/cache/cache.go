package cache

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// Cache provides thread-safe in-memory caching with a per-entry TTL.
type Cache[V any] struct {
	entries map[string]*Entry[V]
	mutex   sync.RWMutex
	now     func() time.Time
}

// Entry is a cached value with its bookkeeping.
type Entry[V any] struct {
	Key       string
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
	Source    string
}

// Stats provides cache usage statistics.
type Stats struct {
	TotalEntries int       `json:"totalEntries"`
	FreshEntries int       `json:"freshEntries"`
	StaleEntries int       `json:"staleEntries"`
	OldestEntry  time.Time `json:"oldestEntry"`
	NewestEntry  time.Time `json:"newestEntry"`
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*Entry[V]),
		now:     time.Now,
	}
}

// Set stores value under key until ttl elapses.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration, source string) {
	now := c.now()
	entry := &Entry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Source:    source,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[key] = entry
}

// Get returns the value if present and not stale.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists || c.now().After(entry.ExpiresAt) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Peek returns the entry even when stale; callers decide how to handle it.
func (c *Cache[V]) Peek(key string) (*Entry[V], bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, exists := c.entries[key]
	return entry, exists
}

// Delete removes an entry.
func (c *Cache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// DeleteFunc removes every entry whose value matches and returns the count.
func (c *Cache[V]) DeleteFunc(match func(key string, value V) bool) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if match(key, entry.Value) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	stats := Stats{TotalEntries: len(c.entries)}

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			stats.StaleEntries++
		} else {
			stats.FreshEntries++
		}

		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt
		}
	}
	return stats
}

// CleanupStale removes all stale entries and returns how many went.
func (c *Cache[V]) CleanupStale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	var removed int
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartPeriodicCleanup removes stale entries every interval until ctx is
// done.
func (c *Cache[V]) StartPeriodicCleanup(ctx context.Context, interval time.Duration) {
	ctx = logging.EnsureLogger(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err, _ := errors.ParseStack(debug.Stack())
				skipFrames := 3
				numFrames := 5
				logging.Errorw(ctx, "Cache cleanup: recovered from panic",
					"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.CleanupStale(); removed > 0 {
					logging.Debugw(ctx, "Cache cleanup: removed stale entries", "removed", removed)
				}
			}
		}
	}()
}
