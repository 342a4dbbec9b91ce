package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/config"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/metrics"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type recordingHealth struct {
	types.HealthManager
	checkers map[string]types.HealthChecker
}

func (r *recordingHealth) RegisterChecker(name string, checker types.HealthChecker) {
	if r.checkers == nil {
		r.checkers = make(map[string]types.HealthChecker)
	}
	r.checkers[name] = checker
}

func configWithCache(t *testing.T, cacheConfig *types.CacheConfig) types.ConfigManager {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Backend.URL = "http://baas.local"
	cfg.Backend.AnonKey = "anon"
	cfg.Cache = cacheConfig

	cm, err := config.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	return cm
}

func TestNewCacheManager_Disabled(t *testing.T) {
	cm := configWithCache(t, &types.CacheConfig{Enabled: false})

	_, err := NewCacheManager(context.Background(), cm, logger.NewNop(), nil, nil)
	assert.ErrorIs(t, err, types.ErrCacheIsDisabled)
}

func TestNewCacheManager_UnknownTypeFallsBackToMemory(t *testing.T) {
	cm := configWithCache(t, &types.CacheConfig{Enabled: true, Type: "memcached"})

	manager, err := NewCacheManager(context.Background(), cm, logger.NewNop(), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, manager)
}

func TestNewCacheManager_CustomCreator(t *testing.T) {
	var created bool
	RegisterCacheManager("custom-test", func(config *types.CacheConfig, logger types.Logger) (types.CacheManager, error) {
		created = true
		return NewMemoryCache(logger), nil
	})

	cm := configWithCache(t, &types.CacheConfig{Enabled: true, Type: "custom-test"})

	_, err := NewCacheManager(context.Background(), cm, logger.NewNop(), nil, nil)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestNewCacheManager_InstrumentedAndChecked(t *testing.T) {
	cm := configWithCache(t, &types.CacheConfig{Enabled: true, Type: "memory"})
	mm := metrics.NewMemoryMetrics(logger.NewNop())
	require.NoError(t, mm.Start())
	health := &recordingHealth{}

	manager, err := NewCacheManager(context.Background(), cm, logger.NewNop(), mm, health)
	require.NoError(t, err)

	checker, ok := health.checkers["cache"]
	require.True(t, ok)
	assert.Equal(t, types.StatusUnhealthy, checker(context.Background()).Status, "not started yet")

	require.NoError(t, manager.Start())
	t.Cleanup(func() { _ = manager.Stop() })

	require.NoError(t, manager.Set("profile:1", "ana", time.Minute))
	_, hit := manager.Get("profile:1")
	_, miss := manager.Get("profile:2")
	assert.True(t, hit)
	assert.False(t, miss)

	assert.True(t, manager.Invalidate("profile:1"))
	assert.False(t, manager.Invalidate("profile:1"))

	get := func(operation, result string) float64 {
		return mm.Counter("cache_operations_total", map[string]string{"operation": operation, "result": result}).Get()
	}
	assert.Equal(t, 1.0, get("get", "hit"))
	assert.Equal(t, 1.0, get("get", "miss"))
	assert.Equal(t, 1.0, get("set", "success"))
	assert.Equal(t, 1.0, get("invalidate", "removed"))
	assert.Equal(t, 1.0, get("invalidate", "absent"))

	check := checker(context.Background())
	assert.Equal(t, types.StatusHealthy, check.Status)
	assert.Equal(t, 0, check.Details["entries"])
}

func TestMemoryCache_Lifecycle(t *testing.T) {
	m := NewMemoryCache(logger.NewNop())

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)

	assert.ErrorIs(t, m.Set("", "v", time.Minute), types.ErrCacheKeyEmpty)
	require.NoError(t, m.Set("a", 1, time.Minute))
	require.NoError(t, m.Set("b", 2, time.Minute))

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, types.CacheStats{Count: 2, Keys: []string{"a", "b"}}, stats)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())

	_, ok := m.Get("a")
	assert.False(t, ok, "stop drops entries")
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
}

type profileEntry struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func TestLoad(t *testing.T) {
	m := NewMemoryCache(logger.NewNop())

	require.NoError(t, m.Set("typed", profileEntry{UserID: "u1", Role: "learner"}, time.Minute))
	require.NoError(t, m.Set("generic", map[string]interface{}{"user_id": "u2", "role": "instructor"}, time.Minute))
	require.NoError(t, m.Set("wrong", "not a struct", time.Minute))

	typed, ok := Load[profileEntry](m, "typed")
	require.True(t, ok)
	assert.Equal(t, "u1", typed.UserID)

	generic, ok := Load[profileEntry](m, "generic")
	require.True(t, ok)
	assert.Equal(t, profileEntry{UserID: "u2", Role: "instructor"}, generic)

	_, ok = Load[profileEntry](m, "wrong")
	assert.False(t, ok)

	_, ok = Load[profileEntry](m, "missing")
	assert.False(t, ok)
}

func TestDependencies(t *testing.T) {
	m := NewMemoryCache(logger.NewNop())

	assert.Equal(t, "0", Generation(m, "community_posts"))

	require.NoError(t, TouchDependency(m, "community_posts", "ranking"))
	first := Generation(m, "community_posts")
	assert.NotEqual(t, "0", first)
	assert.Equal(t, first, Generation(m, "ranking"))

	time.Sleep(time.Millisecond)
	require.NoError(t, TouchDependency(m, "community_posts"))
	assert.NotEqual(t, first, Generation(m, "community_posts"))
	assert.Equal(t, first, Generation(m, "ranking"))
}
