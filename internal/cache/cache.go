// Package cache provides a TTL cache for read-mostly API responses such as
// log aggregations and stats, bounding how often those endpoints hit the
// log store.
package cache

import (
	"sync"
	"time"
)

// Entry represents a cached item with metadata
type Entry struct {
	Value     any       `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	HitCount  int       `json:"hit_count"`
}

// IsExpired checks if the cache entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Config holds cache configuration
type Config struct {
	// MaxEntries is the maximum number of cache entries
	MaxEntries int

	// DefaultTTL is the default time-to-live for cache entries
	DefaultTTL time.Duration

	// TTLByOperation allows custom TTLs for specific operations
	TTLByOperation map[string]time.Duration

	// Enabled controls whether caching is active
	Enabled bool
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxEntries: 100,
		DefaultTTL: 30 * time.Second,
		TTLByOperation: map[string]time.Duration{
			// Aggregations change slowly relative to the query cost
			"aggregate": 1 * time.Minute,

			// Stats combine counters with store totals
			"stats": 30 * time.Second,
		},
		Enabled: true,
	}
}

// Cache is a bounded TTL cache with LRU eviction on overflow.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	config  *Config
}

// New creates a cache from the given configuration.
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 100
	}
	return &Cache{
		entries: make(map[string]*Entry),
		config:  config,
	}
}

// Get retrieves a value from the cache
func (c *Cache) Get(operation, key string) (any, bool) {
	if !c.config.Enabled {
		return nil, false
	}
	fullKey := operation + ":" + key

	c.mu.RLock()
	entry, exists := c.entries[fullKey]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if entry.IsExpired() {
		c.mu.Lock()
		delete(c.entries, fullKey)
		c.mu.Unlock()
		return nil, false
	}

	// Update hit count (needs write lock)
	c.mu.Lock()
	entry.HitCount++
	c.mu.Unlock()

	return entry.Value, true
}

// Set stores a value using the operation's configured TTL
func (c *Cache) Set(operation, key string, value any) {
	if !c.config.Enabled {
		return
	}

	ttl := c.config.DefaultTTL
	if opTTL, ok := c.config.TTLByOperation[operation]; ok {
		ttl = opTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict expired entries if at capacity
	if len(c.entries) >= c.config.MaxEntries {
		c.evictExpiredLocked()
	}

	// If still at capacity, evict oldest
	if len(c.entries) >= c.config.MaxEntries {
		c.evictOldestLocked()
	}

	c.entries[operation+":"+key] = &Entry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
		HitCount:  0,
	}
}

// Invalidate removes all entries for an operation
func (c *Cache) Invalidate(operation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := operation + ":"
	count := 0
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			count++
		}
	}
	return count
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Cache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalHits := 0
	expiredCount := 0
	now := time.Now()

	for _, entry := range c.entries {
		totalHits += entry.HitCount
		if now.After(entry.ExpiresAt) {
			expiredCount++
		}
	}

	return map[string]any{
		"size":          len(c.entries),
		"max_entries":   c.config.MaxEntries,
		"total_hits":    totalHits,
		"expired_count": expiredCount,
		"enabled":       c.config.Enabled,
	}
}

// evictExpiredLocked removes all expired entries (must hold write lock)
func (c *Cache) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOldestLocked removes the oldest entry (must hold write lock)
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
