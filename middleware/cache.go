package middleware

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

const (
	HeaderCache       = "X-Cache"
	cacheHit          = "HIT"
	cacheMiss         = "MISS"
	responseKeyPrefix = "http:"
)

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// CacheMiddleware serves GET responses of routes registered WithCache from the
// cache manager. The key is scoped by the caller's role, by the caller unless the
// route is shared, and by the generation of every dependency, so TouchDependency
// drops all variants at once. Handlers query the backend with the caller's token,
// so row-level policies may give two users of one role different rows.
type CacheMiddleware struct {
	logger     types.Logger
	metrics    types.MetricsManager
	cache      types.CacheManager
	defaultTTL time.Duration
	weight     int
}

func NewCacheMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, cacheManager types.CacheManager) *CacheMiddleware {
	defaultTTL := 5 * time.Minute
	if cacheConfig := config.GetConfig().Cache; cacheConfig != nil && cacheConfig.DefaultTTL > 0 {
		defaultTTL = cacheConfig.DefaultTTL
	}

	return &CacheMiddleware{
		logger:     logger,
		metrics:    metrics,
		cache:      cacheManager,
		defaultTTL: defaultTTL,
		weight:     itemWeight(config.GetConfig().Middlewares.Cache, 100),
	}
}

func (c *CacheMiddleware) Name() string { return "cache" }
func (c *CacheMiddleware) Weight() int  { return c.weight }

func (c *CacheMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if !ctx.IsGet() || config == nil || config.Cache == nil {
		next(ctx)
		return
	}

	key := c.buildKey(ctx, config.Cache)

	if cached, ok := cache.Load[cachedResponse](c.cache, key); ok {
		c.record(cacheHit)
		ctx.SetStatusCode(cached.Status)
		ctx.SetContentType(cached.ContentType)
		ctx.SetBody(cached.Body)
		ctx.Response.Header.Set(HeaderCache, cacheHit)
		return
	}

	next(ctx)

	c.record(cacheMiss)
	ctx.Response.Header.Set(HeaderCache, cacheMiss)

	if !shouldCacheResponse(ctx) {
		return
	}

	ttl := config.Cache.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	entry := cachedResponse{
		Status:      ctx.Response.StatusCode(),
		ContentType: string(ctx.Response.Header.ContentType()),
		Body:        append([]byte(nil), ctx.Response.Body()...),
	}

	if err := c.cache.Set(key, entry, ttl); err != nil {
		c.logger.Warn("Failed to cache response", zap.String("key", key), zap.Error(err))
	}
}

func (c *CacheMiddleware) buildKey(ctx *fasthttp.RequestCtx, handlerConfig *types.CacheHandlerConfig) string {
	var b strings.Builder
	b.WriteString(responseKeyPrefix)
	b.WriteString(handlerConfig.Key)

	for _, dep := range handlerConfig.Deps {
		b.WriteByte(':')
		b.WriteString(cache.Generation(c.cache, dep))
	}

	b.WriteByte(':')
	if identity, ok := IdentityFrom(ctx); ok {
		b.WriteString(identity.Role.String())
		if !handlerConfig.Shared {
			b.WriteString(":u=")
			b.WriteString(callerScope(identity))
		}
	} else {
		b.WriteString("anonymous")
	}

	b.WriteByte(':')
	b.Write(ctx.Path())
	if query := ctx.QueryArgs().QueryString(); len(query) > 0 {
		b.WriteByte('?')
		b.Write(query)
	}

	return b.String()
}

func callerScope(identity *types.Identity) string {
	if identity.UserID != "" {
		return identity.UserID
	}
	return utils.Fingerprint(identity.Token)
}

func (c *CacheMiddleware) record(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Counter("http_cache_requests_total", map[string]string{"result": strings.ToLower(result)}).Inc()
}

func shouldCacheResponse(ctx *fasthttp.RequestCtx) bool {
	status := ctx.Response.StatusCode()
	if status < 200 || status >= 300 || len(ctx.Response.Body()) == 0 {
		return false
	}

	cacheControl := strings.ToLower(string(ctx.Response.Header.Peek(fasthttp.HeaderCacheControl)))
	return !strings.Contains(cacheControl, "no-store") && !strings.Contains(cacheControl, "private")
}
