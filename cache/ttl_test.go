package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestTTLCache_GetMissing(t *testing.T) {
	c := NewTTLCache()

	_, ok := c.Get("never-written")
	assert.False(t, ok)
}

func TestTTLCache_SetAndGet(t *testing.T) {
	c := NewTTLCache()

	c.Set("key1", "value1", time.Minute)

	val, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", val)
}

func TestTTLCache_ProfileExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache(WithClock(clock.Now))

	profile := map[string]string{"name": "Ana"}
	c.Set("profile:42", profile, time.Second)

	clock.Advance(500 * time.Millisecond)
	val, ok := c.Get("profile:42")
	require.True(t, ok)
	assert.Equal(t, profile, val)

	clock.Advance(time.Second)
	_, ok = c.Get("profile:42")
	assert.False(t, ok)
}

func TestTTLCache_ExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache(WithClock(clock.Now))

	c.Set("k", 1, time.Second)

	clock.Advance(time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry is still fresh when elapsed equals ttl")

	clock.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_LazyEvictionOnGet(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache(WithClock(clock.Now))

	c.Set("stale", "v", time.Second)
	c.Set("fresh", "v", time.Hour)
	clock.Advance(2 * time.Second)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Count, "stats does not sweep expired entries")
	assert.Equal(t, []string{"fresh", "stale"}, stats.Keys)

	_, ok := c.Get("stale")
	assert.False(t, ok)

	stats = c.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, []string{"fresh"}, stats.Keys)
}

func TestTTLCache_ZeroTTLIsStaleOnNextRead(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache(WithClock(clock.Now))

	c.Set("zero", "v", 0)
	_, ok := c.Get("zero")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.Set("negative", "v", -time.Second)
	_, ok = c.Get("negative")
	assert.False(t, ok)
}

func TestTTLCache_SetOverwritesAndResetsTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache(WithClock(clock.Now))

	c.Set("k", "old", time.Second)
	clock.Advance(900 * time.Millisecond)
	c.Set("k", "new", time.Second)
	clock.Advance(900 * time.Millisecond)

	val, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", val)
}

func TestTTLCache_Invalidate(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache(WithClock(clock.Now))

	assert.False(t, c.Invalidate("missing"))

	c.Set("k", "v", time.Minute)
	assert.True(t, c.Invalidate("k"))
	assert.False(t, c.Invalidate("k"))

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("expired", "v", time.Second)
	clock.Advance(time.Minute)
	assert.True(t, c.Invalidate("expired"), "an unread expired entry is still stored")
}

func TestTTLCache_Delete(t *testing.T) {
	c := NewTTLCache()

	c.Set("k", "v", time.Minute)
	c.Delete("k")
	c.Delete("missing")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_Clear(t *testing.T) {
	c := NewTTLCache()

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}
	c.Clear()

	stats := c.Stats()
	assert.Equal(t, 0, stats.Count)
	assert.Empty(t, stats.Keys)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Count)
}

func TestTTLCache_StatsKeysAreACopy(t *testing.T) {
	c := NewTTLCache()
	c.Set("a", 1, time.Minute)

	stats := c.Stats()
	stats.Keys[0] = "mutated"

	_, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, c.Stats().Keys)
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache(WithClock(clock.Now))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%16)
				c.Set(key, w, time.Duration(i%3)*time.Millisecond)
				c.Get(key)
				if i%50 == 0 {
					clock.Advance(time.Millisecond)
					c.Invalidate(key)
					c.Stats()
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
}
