package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultCacheTTL matches how long a completion stays reusable for the
// same agent and prompt.
const DefaultCacheTTL = time.Hour

// DefaultCacheCap bounds the number of retained entries.
const DefaultCacheCap = 1024

type cacheEntry struct {
	text      string
	expiresAt time.Time
}

// ResponseCache memoizes completions keyed by agent and prompt hash.
// Entries expire after a TTL; evictions beyond the cap drop the entry
// closest to expiry.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	cap     int
	now     func() time.Time
}

// NewResponseCache creates a cache; zero ttl or cap take the defaults.
func NewResponseCache(ttl time.Duration, capacity int) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCap
	}
	return &ResponseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		cap:     capacity,
		now:     time.Now,
	}
}

// Key derives the cache key for an agent's prompt.
func Key(agent, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return agent + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached completion if present and unexpired.
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.text, true
}

// Set stores a completion under key.
func (c *ResponseCache) Set(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.cap {
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = cacheEntry{text: text, expiresAt: c.now().Add(c.ttl)}
}

func (c *ResponseCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey = k
			oldest = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Sweep removes expired entries and reports how many were dropped.
func (c *ResponseCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
