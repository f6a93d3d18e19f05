package render

import (
	"sync"
	"time"
)

// VerdictCache remembers URL safety verdicts keyed by the exact URL string.
// Verdicts depend only on the URL, so concurrent writers racing on the same
// key are harmless; the last write wins.
type VerdictCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	max     int
	entries map[string]verdictEntry
	now     func() time.Time
}

type verdictEntry struct {
	safe bool
	at   time.Time
}

// NewVerdictCache creates a cache whose entries expire after ttl and which
// holds at most max entries. A zero ttl keeps entries until evicted.
func NewVerdictCache(ttl time.Duration, max int) *VerdictCache {
	if max <= 0 {
		max = 1024
	}
	return &VerdictCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]verdictEntry),
		now:     time.Now,
	}
}

// Get returns the cached verdict for url. ok is false on a miss or when the
// entry has expired.
func (c *VerdictCache) Get(url string) (safe bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, found := c.entries[url]
	if !found {
		return false, false
	}
	if c.ttl > 0 && c.now().Sub(e.at) > c.ttl {
		return false, false
	}
	return e.safe, true
}

// Put stores a verdict, evicting the oldest entry when the cache is full.
func (c *VerdictCache) Put(url string, safe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[url]; !exists && len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.entries[url] = verdictEntry{safe: safe, at: c.now()}
}

// Len returns the number of stored entries, expired ones included.
func (c *VerdictCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry.
func (c *VerdictCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]verdictEntry)
}

func (c *VerdictCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.at.Before(oldest) {
			oldestKey, oldest, first = k, e.at, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
