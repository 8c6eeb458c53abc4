package cache

import (
	"context"
	"sync"
	"time"
)

// TTLCache is an in-process Store with time-based expiration and
// least-recently-used eviction once maxEntries is reached
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxEntries int
	stats      Stats

	// Cleanup
	stopCh   chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value    []byte
	expires  time.Time
	accessed time.Time
}

// Stats counts cache activity
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	CleanupRuns int64 `json:"cleanup_runs"`
	Entries     int   `json:"entries"`
}

// HitRatio returns hits / (hits + misses), 0 before any lookup
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewTTLCache creates a TTL cache holding at most maxEntries values. A
// cleanup goroutine runs every interval until Stop is called; interval <= 0
// disables it.
func NewTTLCache(maxEntries int, interval time.Duration) *TTLCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c := &TTLCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	if interval > 0 {
		go c.cleanup(interval)
	}
	return c
}

// Get retrieves a value if present and not expired
func (c *TTLCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || (!entry.expires.IsZero() && time.Now().After(entry.expires)) {
		c.stats.Misses++
		return nil, false, nil
	}

	entry.accessed = time.Now()
	c.stats.Hits++
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores a copy of value; ttl <= 0 never expires
func (c *TTLCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	e := &cacheEntry{value: append([]byte(nil), value...), accessed: time.Now()}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Delete removes key
func (c *TTLCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Stats returns a snapshot of cache statistics
func (c *TTLCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Clear removes all entries and resets statistics
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.stats = Stats{}
}

// Stop shuts down the cleanup goroutine
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictLRU removes the least recently used entry (caller must hold write lock)
func (c *TTLCache) evictLRU() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.accessed.Before(oldestTime) {
			oldestKey, oldestTime = key, entry.accessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

func (c *TTLCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTLCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if !entry.expires.IsZero() && now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
	c.stats.CleanupRuns++
}
