package cache

import (
	"sort"
	"sync"
	"time"
)

type ttlEntry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

func (e *ttlEntry) expired(now time.Time) bool {
	return e.ttl <= 0 || now.Sub(e.storedAt) > e.ttl
}

// Stats is a point-in-time view of the stored keys. Expired entries that have not
// been read yet are still counted: Stats never evicts.
type Stats struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

type TTLOption func(*TTLCache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) TTLOption {
	return func(c *TTLCache) {
		if now != nil {
			c.now = now
		}
	}
}

// TTLCache is an in-process key/value store with per-entry expiry. Expired entries
// are removed lazily by Get; there is no background sweep.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]*ttlEntry
	now     func() time.Time
}

func NewTTLCache(opts ...TTLOption) *TTLCache {
	c := &TTLCache{
		entries: make(map[string]*ttlEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if it is present and fresh. A stale entry is
// deleted as a side effect and reported as missing.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if entry.expired(c.now()) {
		delete(c.entries, key)
		return nil, false
	}

	return entry.value, true
}

// Set stores value under key, replacing any previous entry and restarting its TTL.
// A zero or negative ttl makes the entry stale on the next read.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}

	c.mu.Lock()
	c.entries[key] = &ttlEntry{
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
	}
	c.mu.Unlock()
}

// Invalidate removes key and reports whether an entry was stored under it.
func (c *TTLCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTLCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*ttlEntry)
	c.mu.Unlock()
}

func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	sort.Strings(keys)

	return Stats{
		Count: len(keys),
		Keys:  keys,
	}
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
