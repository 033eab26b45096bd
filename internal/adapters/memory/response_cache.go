package memory

import (
	"context"
	"sync"
	"time"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// ResponseCache is an in-process domain.ResponseCacheStore. Entries are only
// trusted while now < expiresAt and are dropped lazily on the next read.
// The key space is bounded by distinct endpoint+parameter combinations, so no
// size bound is applied.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	clock   domain.Clock
}

var _ domain.ResponseCacheStore = (*ResponseCache)(nil)

// NewResponseCache creates an empty cache. A nil clock uses the wall clock.
func NewResponseCache(clock domain.Clock) *ResponseCache {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &ResponseCache{entries: make(map[string]cacheEntry), clock: clock}
}

func (c *ResponseCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, domain.ErrCacheMiss
	}
	return entry.data, nil
}

func (c *ResponseCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{data: stored, expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

// Len returns the number of entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
