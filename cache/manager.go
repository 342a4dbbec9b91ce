package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

var customCacheCreators = make(map[string]types.CacheManagerCreator)

func RegisterCacheManager(cacheManagerName string, creator types.CacheManagerCreator) {
	customCacheCreators[cacheManagerName] = creator
}

func NewCacheManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, health types.HealthManager) (types.CacheManager, error) {
	cacheConfig := config.GetConfig().Cache

	if cacheConfig == nil || !cacheConfig.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	var impl types.CacheManager
	var err error

	switch cacheConfig.Type {
	case "memory":
		impl, err = newMemoryCacheManager(cacheConfig, logger)
	case "redis":
		impl, err = NewRedisCache(ctx, logger, cacheConfig)
	default:
		if creator, exists := customCacheCreators[cacheConfig.Type]; exists {
			impl, err = creator(cacheConfig, logger)
		} else {
			logger.Warn("Unknown cache type, falling back to memory", zap.String("type", cacheConfig.Type))
			impl, err = newMemoryCacheManager(cacheConfig, logger)
		}
	}

	if err != nil {
		return nil, err
	}

	if health != nil {
		health.RegisterChecker("cache", newCacheChecker(impl))
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedCacheManager(logger, metrics, impl), nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newCacheChecker(impl types.CacheManager) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		start := time.Now()
		check := types.HealthCheck{
			Name:      "cache",
			Status:    types.StatusHealthy,
			LastCheck: start,
		}

		if !impl.IsRunning() {
			check.Status = types.StatusUnhealthy
			check.Message = "cache is not running"
			check.Duration = time.Since(start)
			return check
		}

		if p, ok := impl.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				check.Status = types.StatusUnhealthy
				check.Message = err.Error()
			}
		}

		if stats, err := impl.Stats(); err == nil {
			check.Details = map[string]interface{}{"entries": stats.Count}
		}

		check.Duration = time.Since(start)
		return check
	}
}

// Load reads key and converts the stored value to T. Values read back from Redis
// are generic maps and get re-decoded.
func Load[T any](cm types.CacheManager, key string) (T, bool) {
	var out T

	value, ok := cm.Get(key)
	if !ok {
		return out, false
	}

	if err := utils.Convert(value, &out); err != nil {
		return out, false
	}
	return out, true
}

type instrumentedCacheManager struct {
	impl    types.CacheManager
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedCacheManager(logger types.Logger, metrics types.MetricsManager, impl types.CacheManager) types.CacheManager {
	return &instrumentedCacheManager{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (icm *instrumentedCacheManager) Get(key string) (interface{}, bool) {
	start := time.Now()
	value, exists := icm.impl.Get(key)

	result := "miss"
	if exists {
		result = "hit"
	}

	icm.recordMetric("get", result, time.Since(start))
	return value, exists
}

func (icm *instrumentedCacheManager) Set(key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := icm.impl.Set(key, value, ttl)
	icm.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Invalidate(key string) bool {
	start := time.Now()
	removed := icm.impl.Invalidate(key)

	result := "absent"
	if removed {
		result = "removed"
	}

	icm.recordMetric("invalidate", result, time.Since(start))
	return removed
}

func (icm *instrumentedCacheManager) Delete(key string) error {
	start := time.Now()
	err := icm.impl.Delete(key)
	icm.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Clear() error {
	start := time.Now()
	err := icm.impl.Clear()
	icm.recordMetric("clear", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Stats() (types.CacheStats, error) {
	stats, err := icm.impl.Stats()
	if err == nil {
		icm.metrics.Gauge("cache_entries", nil).Set(float64(stats.Count))
	}
	return stats, err
}

func (icm *instrumentedCacheManager) Start() error {
	start := time.Now()
	err := icm.impl.Start()
	icm.recordMetric("start", resultOf(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func (icm *instrumentedCacheManager) recordMetric(operation, result string, duration time.Duration) {
	icm.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	icm.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
