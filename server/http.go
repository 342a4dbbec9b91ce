package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/middleware"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Option func(*FastHTTPServer)

// WithListener serves on ln instead of binding host:port.
func WithListener(ln net.Listener) Option {
	return func(s *FastHTTPServer) {
		s.listener = ln
	}
}

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	middlewares     types.MiddlewareManager
	router          *Router
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	tlsManager      types.TLSManager
	state           atomic.Value
	shutdownTimeout time.Duration
	done            chan struct{}
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	middlewares types.MiddlewareManager,
	tlsManager types.TLSManager,
	router *Router,
	opts ...Option) (*FastHTTPServer, error) {
	if router == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "router is nil")
	}

	httpConfig := config.GetConfig().Server.HTTP
	if httpConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.http")
	}

	tlsConfig := config.GetConfig().Server.TLS
	if tlsConfig == nil {
		tlsConfig = &types.TLSConfig{}
	}
	if tlsConfig.Enabled && tlsManager == nil {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "tls enabled without a certificate manager")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		middlewares:     middlewares,
		tlsManager:      tlsManager,
		router:          router,
		httpConfig:      httpConfig,
		tlsConfig:       tlsConfig,
		shutdownTimeout: 5 * time.Second,
	}

	if httpConfig.ShutdownTimeout > 0 {
		server.shutdownTimeout = httpConfig.ShutdownTimeout
	}

	for _, opt := range opts {
		opt(server)
	}

	server.state.Store(StateStopped)

	return server, nil
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := h.router.FinalizePendingRoutes(); err != nil {
		h.setState(StateStopped)
		return types.WrapError(err, "failed to compile routes")
	}

	h.server = &fasthttp.Server{
		Handler:                      h.Handler(),
		Name:                         h.config.GetConfig().Name,
		ReadTimeout:                  h.httpConfig.ReadTimeout,
		WriteTimeout:                 h.httpConfig.WriteTimeout,
		IdleTimeout:                  h.httpConfig.IdleTimeout,
		MaxRequestBodySize:           h.httpConfig.MaxRequestBodySize,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
		Logger:                       fasthttpLogger{logger: h.logger},
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	if h.listener == nil {
		ln, err := h.listen(addr)
		if err != nil {
			h.setState(StateStopped)
			return types.Errorf(types.ErrServerStartFailed, "%v", err)
		}
		h.listener = ln
	}

	h.done = make(chan struct{})
	go func(ln net.Listener, done chan struct{}) {
		defer close(done)
		if err := h.server.Serve(ln); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
		}
	}(h.listener, h.done)

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully",
		zap.String("address", h.listener.Addr().String()),
		zap.Bool("tls", h.tlsConfig.Enabled),
		zap.Int("routes", len(h.router.GetAllRoutes())))

	return nil
}

func (h *FastHTTPServer) listen(addr string) (net.Listener, error) {
	if h.tlsConfig.Enabled {
		return h.tlsManager.Listen(addr)
	}
	return net.Listen("tcp", addr)
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.listener = nil
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	if err := h.server.ShutdownWithContext(ctx); err != nil {
		h.logger.Warn("Server stop timeout, some connections may not have closed gracefully", zap.Error(err))
		return types.Errorf(types.ErrServerStopFailed, "%v", err)
	}

	select {
	case <-h.done:
	case <-ctx.Done():
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

// Handler resolves the route and runs it behind the middleware chain.
func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method := string(ctx.Method())
		path := utils.BytesToString(ctx.Path())

		route, params, allowed := h.router.match(method, path)
		if route != nil {
			for name, value := range params {
				ctx.SetUserValue(name, value)
			}
			ctx.SetUserValue(middleware.RouteKey, route.Path)
			h.executeHandler(ctx, route.Handler, route.Config)
			return
		}

		if ctx.IsOptions() {
			// Preflight for any path is answered by the CORS middleware.
			h.executeHandler(ctx, func(ctx *fasthttp.RequestCtx) {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
			}, &types.RouteConfig{DisabledMiddlewares: []string{"auth", "access", "cache"}})
			return
		}

		if len(allowed) > 0 {
			h.countUnmatched("method_not_allowed")
			ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
			utils.WriteError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		h.countUnmatched("not_found")
		utils.WriteError(ctx, fasthttp.StatusNotFound, "Not found")
	}
}

func (h *FastHTTPServer) executeHandler(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig) {
	run := func(ctx *fasthttp.RequestCtx) {
		if h.middlewares != nil {
			h.middlewares.Execute(ctx, handler, config)
			return
		}
		handler(ctx)
	}

	if config != nil && config.Timeout > 0 {
		fasthttp.TimeoutWithCodeHandler(run, config.Timeout, "Request timeout", fasthttp.StatusGatewayTimeout)(ctx)
		return
	}

	run(ctx)
}

func (h *FastHTTPServer) countUnmatched(reason string) {
	if h.metrics == nil {
		return
	}
	h.metrics.Counter("http_unmatched_requests_total", map[string]string{"reason": reason}).Inc()
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

type fasthttpLogger struct {
	logger types.Logger
}

func (l fasthttpLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
