package cache

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// MemoryCache exposes a TTLCache as a service component.
type MemoryCache struct {
	logger types.Logger
	store  *TTLCache
	state  atomic.Value
}

func NewMemoryCache(logger types.Logger, opts ...TTLOption) *MemoryCache {
	m := &MemoryCache{
		logger: logger,
		store:  NewTTLCache(opts...),
	}
	m.state.Store(StateStopped)
	return m
}

func newMemoryCacheManager(_ *types.CacheConfig, logger types.Logger) (types.CacheManager, error) {
	return NewMemoryCache(logger), nil
}

func (m *MemoryCache) Get(key string) (interface{}, bool) {
	return m.store.Get(key)
}

func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	m.store.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache) Invalidate(key string) bool {
	return m.store.Invalidate(key)
}

func (m *MemoryCache) Delete(key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) Clear() error {
	m.store.Clear()
	return nil
}

func (m *MemoryCache) Stats() (types.CacheStats, error) {
	stats := m.store.Stats()
	return types.CacheStats{Count: stats.Count, Keys: stats.Keys}, nil
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		m.logger.Warn("Memory cache is already running")
		return types.ErrServerAlreadyRunning
	}

	m.setState(StateRunning)
	m.logger.Info("Memory cache started")
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		m.logger.Warn("Memory cache is not running")
		return types.ErrServerNotRunning
	}

	cleared := m.store.Len()
	m.store.Clear()
	m.setState(StateStopped)

	m.logger.Info("Memory cache stopped", zap.Int("cleared_entries", cleared))
	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryCache) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryCache) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryCache) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
