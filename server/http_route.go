package server

import (
	"time"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

const maxMiddlewareSliceSize = 100

type RouteBuilder struct {
	router  *Router
	method  string
	path    string
	handler types.FastHTTPHandler
	config  *types.RouteConfig
	group   *GroupBuilder
}

// WithCache enables the per-user response cache for a GET route. The key names the
// route in cache keys; dependencies are invalidated with cache.TouchDependency.
func (rb *RouteBuilder) WithCache(key string, ttl time.Duration, dependencies ...string) types.RouteBuilder {
	rb.config.Cache = &types.CacheHandlerConfig{
		Key:  key,
		TTL:  ttl,
		Deps: dependencies,
	}
	return rb
}

// WithSharedCache is WithCache for responses that do not depend on who asks.
// Callers with the same role share one entry.
func (rb *RouteBuilder) WithSharedCache(key string, ttl time.Duration, dependencies ...string) types.RouteBuilder {
	rb.WithCache(key, ttl, dependencies...)
	rb.config.Cache.Shared = true
	return rb
}

func (rb *RouteBuilder) WithMiddlewares(names ...string) types.RouteBuilder {
	rb.config.Middlewares = append(rb.config.Middlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithoutMiddlewares(names ...string) types.RouteBuilder {
	rb.config.DisabledMiddlewares = append(rb.config.DisabledMiddlewares, names...)
	return rb
}

func (rb *RouteBuilder) WithTimeout(duration time.Duration) types.RouteBuilder {
	rb.config.Timeout = duration
	return rb
}

// WithFeature gates the route behind a feature area of the permission table.
func (rb *RouteBuilder) WithFeature(area string) types.RouteBuilder {
	rb.config.Feature = area
	return rb
}

func (rb *RouteBuilder) finalize() error {
	config := rb.resolveConfig()

	if len(config.Middlewares) > maxMiddlewareSliceSize || len(config.DisabledMiddlewares) > maxMiddlewareSliceSize {
		return types.Errorf(types.ErrInvalidParameter, "too many middlewares on %s %s", rb.method, rb.path)
	}

	if config.Cache != nil && config.Cache.Key == "" {
		return types.Errorf(types.ErrCacheKeyEmpty, "%s %s", rb.method, rb.path)
	}

	path := rb.path
	if rb.group != nil {
		path = rb.group.fullPrefix() + path
	}

	return rb.router.add(rb.method, path, rb.handler, config)
}

// resolveConfig layers the route's own settings over its enclosing groups.
func (rb *RouteBuilder) resolveConfig() *types.RouteConfig {
	resolved := &types.RouteConfig{}

	if rb.group != nil {
		for _, group := range rb.group.chain() {
			mergeConfig(resolved, group.config)
		}
	}
	mergeConfig(resolved, rb.config)

	return resolved
}

func mergeConfig(dst, src *types.RouteConfig) {
	if src == nil {
		return
	}
	if src.Cache != nil {
		cacheCopy := *src.Cache
		cacheCopy.Deps = append([]string(nil), src.Cache.Deps...)
		dst.Cache = &cacheCopy
	}
	if src.Timeout > 0 {
		dst.Timeout = src.Timeout
	}
	if src.Feature != "" {
		dst.Feature = src.Feature
	}
	dst.Middlewares = append(dst.Middlewares, src.Middlewares...)
	dst.DisabledMiddlewares = append(dst.DisabledMiddlewares, src.DisabledMiddlewares...)
}
