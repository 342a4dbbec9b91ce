package types

import (
	"time"
)

type CacheManager interface {
	LifecycleManager
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
	Invalidate(key string) bool
	Delete(key string) error
	Clear() error
	Stats() (CacheStats, error)
}

type CacheManagerCreator func(config *CacheConfig, logger Logger) (CacheManager, error)

type CacheStats struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}
