package middleware

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

const MaxMiddlewares = 64

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type entry struct {
	name       string
	middleware types.Middleware
	weight     int
}

type chain func(*fasthttp.RequestCtx, func(*fasthttp.RequestCtx), *types.RouteConfig)

// Manager runs the registered middlewares in ascending weight order. Each route
// selects a subset through a bit mask, and the composed chain for every distinct
// mask is built once.
type Manager struct {
	ctx         context.Context
	config      types.ConfigManager
	logger      types.Logger
	metrics     types.MetricsManager
	cache       types.CacheManager
	resolver    types.IdentityResolver
	table       *access.Table
	registered  map[string]*entry
	ordered     []entry
	nameToIndex map[string]int
	defaultMask uint64
	mu          sync.RWMutex
	chains      map[uint64]chain
	chainsMu    sync.RWMutex
	finalized   atomic.Bool
	state       atomic.Value
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, cache types.CacheManager, resolver types.IdentityResolver, table *access.Table) *Manager {
	m := &Manager{
		ctx:         ctx,
		config:      config,
		logger:      logger,
		metrics:     metrics,
		cache:       cache,
		resolver:    resolver,
		table:       table,
		registered:  make(map[string]*entry),
		nameToIndex: make(map[string]int),
		chains:      make(map[uint64]chain),
	}

	m.state.Store(StateStopped)
	return m
}

// RegisterMiddlewares registers every middleware enabled in configuration.
func (m *Manager) RegisterMiddlewares() error {
	cfg := m.config.GetConfig().Middlewares
	if cfg == nil || !cfg.Enabled {
		m.logger.Info("Middlewares disabled")
		return nil
	}

	enabled := func(item *types.MiddlewareItemConfig) bool {
		return item != nil && item.Enabled
	}

	var candidates []types.Middleware

	if enabled(cfg.Recovery) {
		candidates = append(candidates, NewRecoveryMiddleware(m.config, m.logger, m.metrics))
	}
	if enabled(cfg.Metadata) {
		candidates = append(candidates, NewMetadataMiddleware(m.config, m.logger))
	}
	if enabled(cfg.Logging) {
		candidates = append(candidates, NewLoggingMiddleware(m.config, m.logger, m.metrics))
	}
	if enabled(cfg.CORS) {
		candidates = append(candidates, NewCORSMiddleware(m.config, m.logger))
	}
	if enabled(cfg.RateLimit) {
		candidates = append(candidates, NewRateLimitMiddleware(m.ctx, m.config, m.logger, m.metrics))
	}
	if enabled(cfg.BodyLimit) {
		candidates = append(candidates, NewBodyLimitMiddleware(m.config, m.logger))
	}
	if enabled(cfg.Auth) {
		if m.resolver == nil {
			return types.Errorf(types.ErrInvalidParameter, "auth middleware requires an identity resolver")
		}
		candidates = append(candidates, NewAuthMiddleware(m.config, m.logger, m.metrics, m.resolver))
	}
	if enabled(cfg.Access) {
		if m.table == nil {
			return types.Errorf(types.ErrInvalidParameter, "access middleware requires a permission table")
		}
		candidates = append(candidates, NewAccessMiddleware(m.config, m.logger, m.metrics, m.table))
	}
	if enabled(cfg.Compression) {
		candidates = append(candidates, NewCompressionMiddleware(m.config, m.logger))
	}
	if enabled(cfg.Cache) {
		if m.cache == nil {
			m.logger.Warn("Cache middleware enabled without a cache manager, skipping")
		} else {
			candidates = append(candidates, NewCacheMiddleware(m.config, m.logger, m.metrics, m.cache))
		}
	}

	for _, mw := range candidates {
		if err := m.Register(mw); err != nil {
			return err
		}
		m.logger.Debug("Middleware registered", zap.String("name", mw.Name()), zap.Int("weight", mw.Weight()))
	}

	return nil
}

func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.Errorf(types.ErrInvalidParameter, "middleware is nil")
	}

	if m.finalized.Load() {
		return types.NewErrorf("cannot register middleware %s after start", middleware.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.registered) >= MaxMiddlewares {
		return types.NewErrorf("maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	name := middleware.Name()
	if _, exists := m.registered[name]; exists {
		return types.Errorf(types.ErrMiddlewareDuplicate, "%s", name)
	}

	m.registered[name] = &entry{
		name:       name,
		middleware: middleware,
		weight:     middleware.Weight(),
	}
	return nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := m.finalize(); err != nil {
		m.setState(StateStopped)
		return err
	}

	m.setState(StateRunning)
	m.logger.Info("Middleware manager started", zap.Strings("chain", m.List()))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	m.mu.RLock()
	ordered := m.ordered
	m.mu.RUnlock()

	for _, e := range ordered {
		if stopper, ok := e.middleware.(interface{ Stop() error }); ok {
			if err := stopper.Stop(); err != nil {
				m.logger.Warn("Middleware stop failed", zap.String("name", e.name), zap.Error(err))
			}
		}
	}

	m.setState(StateStopped)
	m.logger.Info("Middleware manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// List returns middleware names in execution order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.finalized.Load() {
		names := make([]string, 0, len(m.registered))
		for name := range m.registered {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}

	names := make([]string, len(m.ordered))
	for i, e := range m.ordered {
		names[i] = e.name
	}
	return names
}

func (m *Manager) finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized.Load() {
		return nil
	}

	weights := make(map[int]string, len(m.registered))
	for name, e := range m.registered {
		if existing, exists := weights[e.weight]; exists {
			return types.NewErrorf("duplicate weight %d for middlewares '%s' and '%s'", e.weight, existing, name)
		}
		weights[e.weight] = name
	}

	m.ordered = make([]entry, 0, len(m.registered))
	for _, e := range m.registered {
		m.ordered = append(m.ordered, *e)
	}

	sort.Slice(m.ordered, func(i, j int) bool {
		return m.ordered[i].weight < m.ordered[j].weight
	})

	m.defaultMask = 0
	for i, e := range m.ordered {
		m.nameToIndex[e.name] = i
		m.defaultMask |= 1 << uint(i)
	}

	m.finalized.Store(true)
	return nil
}

// Execute runs handler behind the middlewares selected for the route.
// Before Start the handler runs bare.
func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if !m.finalized.Load() {
		handler(ctx)
		return
	}

	mask := m.routeMask(config)
	if mask == 0 {
		handler(ctx)
		return
	}

	m.chainFor(mask)(ctx, handler, config)
}

func (m *Manager) routeMask(config *types.RouteConfig) uint64 {
	mask := m.defaultMask
	if config == nil {
		return mask
	}

	for _, name := range config.Middlewares {
		if index, exists := m.nameToIndex[normalizeName(name)]; exists {
			mask |= 1 << uint(index)
		}
	}

	for _, name := range config.DisabledMiddlewares {
		if index, exists := m.nameToIndex[normalizeName(name)]; exists {
			mask &^= 1 << uint(index)
		}
	}

	return mask
}

func (m *Manager) chainFor(mask uint64) chain {
	m.chainsMu.RLock()
	compiled, ok := m.chains[mask]
	m.chainsMu.RUnlock()
	if ok {
		return compiled
	}

	active := make([]types.Middleware, 0, len(m.ordered))
	for i, e := range m.ordered {
		if mask&(1<<uint(i)) != 0 {
			active = append(active, e.middleware)
		}
	}

	compiled = compileChain(active)

	m.chainsMu.Lock()
	m.chains[mask] = compiled
	m.chainsMu.Unlock()

	return compiled
}

func compileChain(middlewares []types.Middleware) chain {
	return func(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
		var index int

		var next func(*fasthttp.RequestCtx)
		next = func(ctx *fasthttp.RequestCtx) {
			if index >= len(middlewares) {
				handler(ctx)
				return
			}

			mw := middlewares[index]
			index++
			mw.Handle(ctx, next, config)
		}

		next(ctx)
	}
}

func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
