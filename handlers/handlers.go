package handlers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/middleware"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

// Handlers serves the portal API. Feature gating happens in the access middleware;
// handlers only read the identity it leaves behind.
type Handlers struct {
	logger   types.Logger
	backend  types.Backend
	cache    types.CacheManager
	table    *access.Table
	cron     types.CronManager
	config   *types.BackendConfig
	validate *validator.Validate
	timeout  time.Duration
}

func NewHandlers(
	logger types.Logger,
	backend types.Backend,
	cache types.CacheManager,
	table *access.Table,
	cron types.CronManager,
	config *types.BackendConfig) *Handlers {
	timeout := 15 * time.Second
	if config != nil && config.Timeout > 0 {
		// Room for the client's own retries.
		timeout = config.Timeout * time.Duration(config.Retries+1)
	}

	return &Handlers{
		logger:   logger,
		backend:  backend,
		cache:    cache,
		table:    table,
		cron:     cron,
		config:   config,
		validate: validator.New(),
		timeout:  timeout,
	}
}

func (h *Handlers) Register(router types.HTTPRouter) {
	api := router.Group("/api")

	api.GET("/me", h.handleMe)
	api.GET("/me/pages", h.handleMyPages)
	api.GET("/permissions/check", h.handlePermissionCheck)
	api.GET("/roles/{role}/pages", h.handleRolePages).
		WithFeature(string(access.AreaSettings))

	for _, f := range h.feeds() {
		route := api.GET(f.path, h.forward(f))
		route.WithFeature(string(f.area))
		if f.cacheKey != "" {
			route.WithCache(f.cacheKey, f.ttl, f.deps...)
		}
	}

	api.POST("/community/posts", h.handleCreatePost).
		WithFeature(string(access.AreaCommunity))

	api.GET("/ranking", h.handleRanking).
		WithFeature(string(access.AreaRanking)).
		WithSharedCache("ranking", time.Minute, rankingDependency)

	api.GET("/uploads", h.handleUploads).
		WithFeature(string(access.AreaUploads))

	admin := api.Group("/admin").WithFeature(string(access.AreaSettings))
	admin.GET("/cache/stats", h.handleCacheStats)
	admin.DELETE("/cache/entry", h.handleCacheInvalidate)
	admin.DELETE("/cache/{key}", h.handleCacheInvalidate)
	admin.DELETE("/cache", h.handleCacheClear)
	admin.GET("/jobs", h.handleJobs)
}

func (h *Handlers) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func identityOrReject(ctx *fasthttp.RequestCtx) (*types.Identity, bool) {
	identity, ok := middleware.IdentityFrom(ctx)
	if !ok {
		utils.CreateUnauthorizedResponse(ctx)
		return nil, false
	}
	return identity, true
}
