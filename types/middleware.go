package types

import "github.com/valyala/fasthttp"

type MiddlewareManager interface {
	LifecycleManager
	Register(middleware Middleware) error
	Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *RouteConfig)
	List() []string
}

type Middleware interface {
	Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *RouteConfig)
	Name() string
	Weight() int
}

type MiddlewareCreator func(config *MiddlewareItemConfig) (Middleware, error)
