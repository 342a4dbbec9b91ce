package middleware

import (
	"bytes"
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

var bearerPrefix = []byte("Bearer ")

// AuthMiddleware resolves the bearer token into an Identity and stores it under IdentityKey.
type AuthMiddleware struct {
	logger     types.Logger
	metrics    types.MetricsManager
	resolver   types.IdentityResolver
	authConfig *AuthConfig
	weight     int
}

type AuthConfig struct {
	ResolveTimeout utils.Duration `json:"resolve_timeout"`
}

func NewAuthMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, resolver types.IdentityResolver) *AuthMiddleware {
	item := config.GetConfig().Middlewares.Auth
	authConfig := &AuthConfig{ResolveTimeout: utils.Duration(10 * time.Second)}
	decodeParams(logger, "auth", item, authConfig)

	return &AuthMiddleware{
		logger:     logger,
		metrics:    metrics,
		resolver:   resolver,
		authConfig: authConfig,
		weight:     itemWeight(item, 70),
	}
}

func (a *AuthMiddleware) Name() string { return "auth" }
func (a *AuthMiddleware) Weight() int  { return a.weight }

func (a *AuthMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if ctx.IsOptions() {
		next(ctx)
		return
	}

	token := bearerToken(ctx)
	if token == "" {
		a.reject(ctx, types.ErrAuthTokenMissing)
		return
	}

	resolveCtx, cancel := context.WithTimeout(context.Background(), a.authConfig.ResolveTimeout.Std())
	defer cancel()

	identity, err := a.resolver.Resolve(resolveCtx, token)
	if err != nil {
		a.reject(ctx, err)
		return
	}

	ctx.SetUserValue(IdentityKey, identity)
	next(ctx)
}

func (a *AuthMiddleware) reject(ctx *fasthttp.RequestCtx, err error) {
	status, message := authStatus(err)

	a.logger.Warn("Authentication failed",
		zap.ByteString("path", ctx.Path()),
		zap.Int("status", status),
		zap.Error(err))

	if a.metrics != nil {
		a.metrics.Counter("auth_failures_total", map[string]string{"status": fasthttp.StatusMessage(status)}).Inc()
	}

	utils.WriteError(ctx, status, message)
}

func authStatus(err error) (int, string) {
	switch {
	case types.IsError(err, types.ErrAuthTokenMissing):
		return fasthttp.StatusUnauthorized, "Authentication required"
	case types.IsError(err, types.ErrAuthTokenInvalid), types.IsError(err, types.ErrBackendUnauthorized):
		return fasthttp.StatusUnauthorized, "Invalid or expired session"
	case types.IsError(err, types.ErrPermissionDenied), types.IsError(err, types.ErrProfileNotFound):
		return fasthttp.StatusForbidden, "Account has no valid portal role"
	case types.IsError(err, types.ErrCircuitBreakerOpen), types.IsError(err, types.ErrBackendTimeout):
		return fasthttp.StatusServiceUnavailable, "Identity provider unavailable"
	default:
		return fasthttp.StatusBadGateway, "Failed to resolve identity"
	}
}

func bearerToken(ctx *fasthttp.RequestCtx) string {
	header := ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)
	if len(header) <= len(bearerPrefix) || !bytes.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return string(bytes.TrimSpace(header[len(bearerPrefix):]))
}
