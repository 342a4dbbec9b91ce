package server

import (
	"time"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

// GroupBuilder shares a path prefix and route settings. Settings are read when
// routes are finalized, so they may be set before or after routes are added.
type GroupBuilder struct {
	router *Router
	parent *GroupBuilder
	prefix string
	config *types.RouteConfig
}

func (gb *GroupBuilder) WithCache(key string, ttl time.Duration, dependencies ...string) types.GroupBuilder {
	gb.config.Cache = &types.CacheHandlerConfig{
		Key:  key,
		TTL:  ttl,
		Deps: dependencies,
	}
	return gb
}

func (gb *GroupBuilder) WithSharedCache(key string, ttl time.Duration, dependencies ...string) types.GroupBuilder {
	gb.WithCache(key, ttl, dependencies...)
	gb.config.Cache.Shared = true
	return gb
}

func (gb *GroupBuilder) WithMiddlewares(names ...string) types.GroupBuilder {
	gb.config.Middlewares = append(gb.config.Middlewares, names...)
	return gb
}

func (gb *GroupBuilder) WithoutMiddlewares(names ...string) types.GroupBuilder {
	gb.config.DisabledMiddlewares = append(gb.config.DisabledMiddlewares, names...)
	return gb
}

func (gb *GroupBuilder) WithTimeout(duration time.Duration) types.GroupBuilder {
	gb.config.Timeout = duration
	return gb
}

func (gb *GroupBuilder) WithFeature(area string) types.GroupBuilder {
	gb.config.Feature = area
	return gb
}

func (gb *GroupBuilder) Route(method, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.router.Route(method, path, handler, gb)
}

func (gb *GroupBuilder) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("GET", path, handler)
}

func (gb *GroupBuilder) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("POST", path, handler)
}

func (gb *GroupBuilder) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("PUT", path, handler)
}

func (gb *GroupBuilder) PATCH(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("PATCH", path, handler)
}

func (gb *GroupBuilder) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return gb.Route("DELETE", path, handler)
}

func (gb *GroupBuilder) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{
		router: gb.router,
		parent: gb,
		prefix: prefix,
		config: &types.RouteConfig{},
	}
}

// chain returns the groups from the outermost to gb.
func (gb *GroupBuilder) chain() []*GroupBuilder {
	var groups []*GroupBuilder
	for g := gb; g != nil; g = g.parent {
		groups = append([]*GroupBuilder{g}, groups...)
	}
	return groups
}

func (gb *GroupBuilder) fullPrefix() string {
	prefix := ""
	for _, g := range gb.chain() {
		prefix += g.prefix
	}
	return prefix
}
