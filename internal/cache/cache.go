// Package cache provides an in-memory TTL cache with ETag support for API
// responses that change rarely, such as category tables and health guidance.
// AQI readings are never cached.
package cache

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TTLs per response family.
const (
	TTLStatic   = 24 * time.Hour // Category table, templates
	TTLGuidance = 6 * time.Hour  // Health recommendations per AQI value
)

type entry struct {
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	enabled bool
	hits    int64
	misses  int64
	now     func() time.Time
}

// New creates a new cache. Pass enabled=false to create a no-op cache.
func New(enabled bool) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		enabled: enabled,
		now:     time.Now,
	}
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool { return c.enabled }

// Get retrieves a cached value. Returns data, etag, and whether the entry was found.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	if !c.enabled {
		return nil, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key]
	if !exists || c.now().After(e.expiresAt) {
		c.misses++
		return nil, "", false
	}
	c.hits++
	return e.data, e.etag, true
}

// Set stores a value with a TTL and returns its ETag.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if !c.enabled {
		return etag
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		data:      data,
		etag:      etag,
		expiresAt: c.now().Add(ttl),
	}
	return etag
}

// InvalidatePrefix drops every key starting with prefix and returns how many
// were removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Stats summarizes cache usage.
type Stats struct {
	Enabled     bool  `json:"enabled"`
	TotalKeys   int   `json:"totalKeys"`
	ActiveKeys  int   `json:"activeKeys"`
	ExpiredKeys int   `json:"expiredKeys"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return Stats{
		Enabled:     c.enabled,
		TotalKeys:   len(c.entries),
		ActiveKeys:  active,
		ExpiredKeys: len(c.entries) - active,
		Hits:        c.hits,
		Misses:      c.misses,
	}
}

// EvictLoop periodically removes expired entries until ctx is cancelled.
// Intended to be called with `go`.
func (c *Cache) EvictLoop(ctx context.Context, every time.Duration) {
	if !c.enabled {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evict()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// ComputeETag generates a weak ETag from response data using MD5.
func ComputeETag(data []byte) string {
	hash := md5.Sum(data)
	return fmt.Sprintf(`W/"%x"`, hash[:8])
}

// CheckETagMatch checks if If-None-Match header matches the current ETag.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}
