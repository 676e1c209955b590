package anomaly

import (
	"context"
	"strconv"
	"sync"
	"time"

	"fertiguard/internal/model"
)

// windowCache memoizes recently fetched history windows keyed by
// (sensor, limit). Entries carry a per-key lock so two readings for the same
// sensor serialize their refresh instead of tearing each other's window; a
// stale entry is refetched, never partially overwritten.
type windowCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	mu        sync.Mutex
	fetchedAt time.Time
	readings  []model.SensorReading
}

func newWindowCache(now func() time.Time) *windowCache {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &windowCache{entries: make(map[string]*cacheEntry), now: now}
}

func cacheKey(sensor string, limit int) string {
	return sensor + "|" + strconv.Itoa(limit)
}

type fetchFunc func(ctx context.Context) ([]model.SensorReading, error)

func (c *windowCache) get(ctx context.Context, sensor string, limit int, ttl time.Duration, fetch fetchFunc) ([]model.SensorReading, error) {
	if ttl <= 0 {
		return fetch(ctx)
	}
	key := cacheKey(sensor, limit)
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
		if len(c.entries) > 1024 {
			c.compact(ttl)
		}
	}
	c.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	now := c.now()
	if !entry.fetchedAt.IsZero() && now.Sub(entry.fetchedAt) < ttl {
		return entry.readings, nil
	}
	readings, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	entry.fetchedAt = now
	entry.readings = readings
	return readings, nil
}

// compact drops expired entries; caller holds c.mu.
func (c *windowCache) compact(ttl time.Duration) {
	now := c.now()
	for key, entry := range c.entries {
		if entry.mu.TryLock() {
			stale := !entry.fetchedAt.IsZero() && now.Sub(entry.fetchedAt) > ttl
			entry.mu.Unlock()
			if stale {
				delete(c.entries, key)
			}
		}
	}
}

func (c *windowCache) reset() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}
