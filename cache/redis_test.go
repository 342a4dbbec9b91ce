package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	config := DefaultRedisConfig()
	config.KeyPrefix = "everest-test-" + uuid.NewString()

	r := NewRedisCacheWithClient(context.Background(), logger.NewNop(), config, redis.NewClient(&redis.Options{Addr: addr}))
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		_ = r.Clear()
		_ = r.Stop()
	})

	return r
}

func TestRedisCache_SetGetInvalidate(t *testing.T) {
	r := newTestRedis(t)

	require.NoError(t, r.Set("profile:1", map[string]interface{}{"role": "learner"}, time.Minute))

	value, ok := r.Get("profile:1")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"role": "learner"}, value)

	assert.True(t, r.Invalidate("profile:1"))
	assert.False(t, r.Invalidate("profile:1"))

	_, ok = r.Get("profile:1")
	assert.False(t, ok)
}

func TestRedisCache_NonPositiveTTLIsStaleImmediately(t *testing.T) {
	r := newTestRedis(t)

	require.NoError(t, r.Set("stale", "v", 0))
	_, ok := r.Get("stale")
	assert.False(t, ok)

	require.NoError(t, r.Set("overwritten", "old", time.Minute))
	require.NoError(t, r.Set("overwritten", "new", -time.Second))
	_, ok = r.Get("overwritten")
	assert.False(t, ok)

	stats, err := r.Stats()
	require.NoError(t, err)
	assert.NotContains(t, stats.Keys, "overwritten")
}

func TestRedisCache_StatsAndClearStayInPrefix(t *testing.T) {
	r := newTestRedis(t)

	require.NoError(t, r.Set("b", 1, time.Minute))
	require.NoError(t, r.Set("a", 2, time.Minute))

	stats, err := r.Stats()
	require.NoError(t, err)
	assert.Equal(t, types.CacheStats{Count: 2, Keys: []string{"a", "b"}}, stats)

	require.NoError(t, r.Clear())

	stats, err = r.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestRedisCache_StartFailsWithoutServer(t *testing.T) {
	config := DefaultRedisConfig()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})

	r := NewRedisCacheWithClient(context.Background(), logger.NewNop(), config, client)
	assert.ErrorIs(t, r.Start(), types.ErrCacheConnectionFailed)
	assert.False(t, r.IsRunning())
}
