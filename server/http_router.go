package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
}

var methodNames = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// compiledRoute holds the handlers registered under one path pattern.
type compiledRoute struct {
	pattern  string
	segments []string
	handlers [7]types.FastHTTPHandler
	configs  [7]*types.RouteConfig
	mask     uint8
}

// Router collects routes at registration time. Builders stay pending until
// FinalizePendingRoutes, so WithX calls after GET/POST still apply.
type Router struct {
	mu            sync.RWMutex
	pendingRoutes []*RouteBuilder
	staticRoutes  map[string]*compiledRoute
	dynamicRoutes []*compiledRoute
	routes        map[string]*types.RouteInfo
}

func NewRouter() *Router {
	return &Router{
		staticRoutes: make(map[string]*compiledRoute),
		routes:       make(map[string]*types.RouteInfo),
	}
}

// Add registers a route immediately. Unknown methods and nil handlers are ignored.
func (r *Router) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	_ = r.add(method, path, handler, config)
}

func (r *Router) add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) error {
	methodIdx, exists := methodIndex[method]
	if !exists {
		return types.Errorf(types.ErrInvalidParameter, "unsupported method %q", method)
	}
	if handler == nil {
		return types.Errorf(types.ErrHandlerIsNil, "%s %s", method, path)
	}
	if config == nil {
		config = &types.RouteConfig{}
	}

	path = normalizePath(path)
	key := method + ":" + path

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[key]; exists {
		return types.Errorf(types.ErrRouteConflict, "%s", key)
	}

	route := r.routeFor(path)
	route.handlers[methodIdx] = handler
	route.configs[methodIdx] = config
	route.mask |= 1 << methodIdx

	r.routes[key] = &types.RouteInfo{
		Method:  method,
		Path:    path,
		Handler: handler,
		Config:  config,
	}

	return nil
}

func (r *Router) routeFor(path string) *compiledRoute {
	if !strings.Contains(path, "{") {
		route, exists := r.staticRoutes[path]
		if !exists {
			route = &compiledRoute{pattern: path}
			r.staticRoutes[path] = route
		}
		return route
	}

	for _, route := range r.dynamicRoutes {
		if route.pattern == path {
			return route
		}
	}

	route := &compiledRoute{pattern: path, segments: splitPath(path)}
	r.dynamicRoutes = append(r.dynamicRoutes, route)

	// Routes with more literal segments win over broader patterns.
	sort.SliceStable(r.dynamicRoutes, func(i, j int) bool {
		return literalCount(r.dynamicRoutes[i].segments) > literalCount(r.dynamicRoutes[j].segments)
	})

	return route
}

func (r *Router) Route(method, path string, handler types.FastHTTPHandler, group *GroupBuilder) types.RouteBuilder {
	rb := &RouteBuilder{
		router:  r,
		method:  method,
		path:    path,
		handler: handler,
		config:  &types.RouteConfig{},
		group:   group,
	}

	r.mu.Lock()
	r.pendingRoutes = append(r.pendingRoutes, rb)
	r.mu.Unlock()

	return rb
}

func (r *Router) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{
		router: r,
		prefix: prefix,
		config: &types.RouteConfig{},
	}
}

func (r *Router) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("GET", path, handler, nil)
}

func (r *Router) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("POST", path, handler, nil)
}

func (r *Router) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("PUT", path, handler, nil)
}

func (r *Router) PATCH(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("PATCH", path, handler, nil)
}

func (r *Router) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("DELETE", path, handler, nil)
}

// FinalizePendingRoutes registers every pending builder. All builders are attempted;
// the first error is returned.
func (r *Router) FinalizePendingRoutes() error {
	r.mu.Lock()
	routes := r.pendingRoutes
	r.pendingRoutes = nil
	r.mu.Unlock()

	var firstErr error
	for _, route := range routes {
		if err := route.finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (r *Router) GetAllRoutes() map[string]*types.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]*types.RouteInfo, len(r.routes))
	for key, info := range r.routes {
		routes[key] = info
	}
	return routes
}

// match resolves a request path. A nil handler with a non-empty allowed list
// means the path exists under other methods.
func (r *Router) match(method, path string) (*types.RouteInfo, map[string]string, []string) {
	path = normalizePath(path)
	methodIdx, known := methodIndex[method]

	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowed []string
	if route, exists := r.staticRoutes[path]; exists {
		if known && route.mask&(1<<methodIdx) != 0 {
			return route.info(methodIdx), nil, nil
		}
		allowed = route.allowed()
	}

	segments := splitPath(path)

	for _, route := range r.dynamicRoutes {
		params, ok := matchSegments(route.segments, segments)
		if !ok {
			continue
		}
		if known && route.mask&(1<<methodIdx) != 0 {
			return route.info(methodIdx), params, nil
		}
		allowed = mergeMethods(allowed, route.allowed())
	}

	return nil, nil, allowed
}

func (c *compiledRoute) info(methodIdx uint8) *types.RouteInfo {
	return &types.RouteInfo{
		Method:  methodNames[methodIdx],
		Path:    c.pattern,
		Handler: c.handlers[methodIdx],
		Config:  c.configs[methodIdx],
	}
}

func (c *compiledRoute) allowed() []string {
	var methods []string
	for idx, name := range methodNames {
		if c.mask&(1<<idx) != 0 {
			methods = append(methods, name)
		}
	}
	return methods
}

func mergeMethods(a, b []string) []string {
	for _, method := range b {
		found := false
		for _, existing := range a {
			if existing == method {
				found = true
				break
			}
		}
		if !found {
			a = append(a, method)
		}
	}
	return a
}

func matchSegments(pattern, segments []string) (map[string]string, bool) {
	if len(pattern) != len(segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range pattern {
		if isParam(seg) {
			if segments[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[seg[1:len(seg)-1]] = segments[i]
			continue
		}
		if seg != segments[i] {
			return nil, false
		}
	}

	return params, true
}

func isParam(segment string) bool {
	return len(segment) > 2 && segment[0] == '{' && segment[len(segment)-1] == '}'
}

func literalCount(segments []string) int {
	n := 0
	for _, seg := range segments {
		if !isParam(seg) {
			n++
		}
	}
	return n
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}
