package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type RedisConfig struct {
	Host               string         `json:"host"`
	Port               int            `json:"port"`
	Password           string         `json:"password"`
	DB                 int            `json:"db"`
	PoolSize           int            `json:"pool_size"`
	MinIdleConnections int            `json:"min_idle_connections"`
	DialTimeout        utils.Duration `json:"dial_timeout"`
	ReadTimeout        utils.Duration `json:"read_timeout"`
	WriteTimeout       utils.Duration `json:"write_timeout"`
	OperationTimeout   utils.Duration `json:"operation_timeout"`
	KeyPrefix          string         `json:"key_prefix"`
	ScanCount          int64          `json:"scan_count"`
}

// RedisCache shares entries between gateway replicas. Expiry is delegated to Redis,
// so reads of an expired key simply miss.
type RedisCache struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  redis.UniversalClient
	started int32
}

func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        utils.Duration(5 * time.Second),
		ReadTimeout:        utils.Duration(3 * time.Second),
		WriteTimeout:       utils.Duration(3 * time.Second),
		OperationTimeout:   utils.Duration(2 * time.Second),
		KeyPrefix:          "everest",
		ScanCount:          200,
	}
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (*RedisCache, error) {
	redisConfig := DefaultRedisConfig()

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout.Std(),
		ReadTimeout:  redisConfig.ReadTimeout.Std(),
		WriteTimeout: redisConfig.WriteTimeout.Std(),
	})

	return NewRedisCacheWithClient(ctx, logger, redisConfig, client), nil
}

// NewRedisCacheWithClient wraps an existing client, e.g. a cluster or sentinel client.
func NewRedisCacheWithClient(ctx context.Context, logger types.Logger, config *RedisConfig, client redis.UniversalClient) *RedisCache {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return &RedisCache{
		ctx:    ctx,
		logger: logger,
		config: config,
		client: client,
	}
}

func (r *RedisCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	ctx, cancel := r.opContext()
	defer cancel()

	raw, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var value interface{}
	if err := utils.Unmarshal(raw, &value); err != nil {
		r.logger.Error("Failed to decode cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, r.fullKey(key))
		return nil, false
	}

	return value, true
}

func (r *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	raw, err := utils.Marshal(value)
	if err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "encode %s: %v", key, err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	// Already stale: drop any previous value instead of storing one Redis would
	// keep serving until it expires.
	if ttl <= 0 {
		if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
			return types.Errorf(types.ErrCacheOperationFailed, "set %s: %v", key, err)
		}
		return nil
	}

	if err := r.client.Set(ctx, r.fullKey(key), raw, ttl).Err(); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "set %s: %v", key, err)
	}
	return nil
}

func (r *RedisCache) Invalidate(key string) bool {
	ctx, cancel := r.opContext()
	defer cancel()

	removed, err := r.client.Del(ctx, r.fullKey(key)).Result()
	if err != nil {
		r.logger.Error("Failed to invalidate cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return removed > 0
}

func (r *RedisCache) Delete(key string) error {
	ctx, cancel := r.opContext()
	defer cancel()

	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "delete %s: %v", key, err)
	}
	return nil
}

// Clear removes only keys under the configured prefix.
func (r *RedisCache) Clear() error {
	keys, err := r.scanKeys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := r.opContext()
	defer cancel()

	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "clear: %v", err)
	}

	r.logger.Info("Redis cache cleared", zap.Int("keys", len(keys)))
	return nil
}

func (r *RedisCache) Stats() (types.CacheStats, error) {
	keys, err := r.scanKeys()
	if err != nil {
		return types.CacheStats{}, err
	}

	stripped := make([]string, 0, len(keys))
	for _, key := range keys {
		stripped = append(stripped, r.stripPrefix(key))
	}
	sort.Strings(stripped)

	return types.CacheStats{Count: len(stripped), Keys: stripped}, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx); err != nil {
		atomic.StoreInt32(&r.started, 0)
		return types.Errorf(types.ErrCacheConnectionFailed, "%v", err)
	}

	r.logger.Info("Redis cache started",
		zap.String("prefix", r.config.KeyPrefix),
		zap.Int("db", r.config.DB))
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close redis client", zap.Error(err))
		return err
	}

	r.logger.Info("Redis cache stopped")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) scanKeys() ([]string, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	var keys []string
	iter := r.client.Scan(ctx, 0, r.fullKey("*"), r.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, types.Errorf(types.ErrCacheOperationFailed, "scan: %v", err)
	}
	return keys, nil
}

func (r *RedisCache) opContext() (context.Context, context.CancelFunc) {
	timeout := r.config.OperationTimeout.Std()
	if timeout <= 0 {
		return context.WithCancel(r.ctx)
	}
	return context.WithTimeout(r.ctx, timeout)
}

func (r *RedisCache) fullKey(key string) string {
	if r.config.KeyPrefix == "" {
		return key
	}
	return r.config.KeyPrefix + ":" + key
}

func (r *RedisCache) stripPrefix(key string) string {
	if r.config.KeyPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, r.config.KeyPrefix+":")
}
