package cache

import (
	"context"
	"sync"
	"time"

	"clinicstock/backend/internal/domain"
)

// MemoryStatsCache is a process-local cache used when redis is not configured.
type MemoryStatsCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	stats     domain.OrderStats
	expiresAt time.Time
}

func NewMemoryStatsCache() *MemoryStatsCache {
	return &MemoryStatsCache{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryStatsCache) Get(_ context.Context, key string) (*domain.OrderStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	stats := entry.stats
	return &stats, true, nil
}

func (c *MemoryStatsCache) Set(_ context.Context, key string, value *domain.OrderStats, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{stats: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryStatsCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
