package sessioncache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Used by tests and by cmd/server when no
// Redis address is configured outside production.
type MemoryCache struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry{value: value, expiresAt: c.nowF().Add(ttl)}
	return nil
}

// Get returns the value for key if present and not expired. Expired entries are evicted on read.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.After(c.nowF()) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return false, nil
	}
	delete(c.m, key)
	return e.expiresAt.After(c.nowF()), nil
}

func (c *MemoryCache) Ping(ctx context.Context) error { return nil }
