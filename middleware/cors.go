package middleware

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

var (
	trueBytes        = []byte("true")
	asteriskBytes    = []byte("*")
	varyOriginStr    = []byte("Origin")
	varyPreflightStr = []byte("Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
)

type CORSMiddleware struct {
	logger            types.Logger
	corsConfig        *CORSConfig
	weight            int
	allowsAll         bool
	allowedOrigins    map[string]bool
	wildcardDomains   []string
	allowedMethodsStr []byte
	allowedHeadersStr []byte
	exposedHeadersStr []byte
	maxAgeStr         []byte
}

type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

func NewCORSMiddleware(config types.ConfigManager, logger types.Logger) *CORSMiddleware {
	item := config.GetConfig().Middlewares.CORS
	corsConfig := &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Cache"},
		MaxAge:         86400,
	}
	decodeParams(logger, "cors", item, corsConfig)

	c := &CORSMiddleware{
		logger:     logger,
		corsConfig: corsConfig,
		weight:     itemWeight(item, 40),
	}
	c.precompile()

	return c
}

func (c *CORSMiddleware) Name() string { return "cors" }
func (c *CORSMiddleware) Weight() int  { return c.weight }

func (c *CORSMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	origin := ctx.Request.Header.Peek("Origin")
	if len(origin) == 0 {
		next(ctx)
		return
	}

	if !c.isOriginAllowed(origin) {
		c.logger.Warn("CORS request blocked",
			zap.ByteString("origin", origin),
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()))

		utils.WriteError(ctx, fasthttp.StatusForbidden, "Origin not allowed")
		return
	}

	if ctx.IsOptions() && len(ctx.Request.Header.Peek("Access-Control-Request-Method")) > 0 {
		c.writePreflight(ctx, origin)
		return
	}

	c.setAllowOrigin(ctx, origin)
	if len(c.exposedHeadersStr) > 0 {
		ctx.Response.Header.SetBytesV("Access-Control-Expose-Headers", c.exposedHeadersStr)
	}
	ctx.Response.Header.AddBytesV("Vary", varyOriginStr)

	next(ctx)
}

func (c *CORSMiddleware) isOriginAllowed(origin []byte) bool {
	if c.allowsAll {
		return true
	}

	originStr := string(origin)
	if c.allowedOrigins[originStr] {
		return true
	}

	host := originStr
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}

	for _, domain := range c.wildcardDomains {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}

	return false
}

func (c *CORSMiddleware) setAllowOrigin(ctx *fasthttp.RequestCtx, origin []byte) {
	if c.allowsAll && !c.corsConfig.AllowCredentials {
		ctx.Response.Header.SetBytesV("Access-Control-Allow-Origin", asteriskBytes)
	} else {
		ctx.Response.Header.SetBytesV("Access-Control-Allow-Origin", origin)
	}

	if c.corsConfig.AllowCredentials {
		ctx.Response.Header.SetBytesV("Access-Control-Allow-Credentials", trueBytes)
	}
}

func (c *CORSMiddleware) writePreflight(ctx *fasthttp.RequestCtx, origin []byte) {
	ctx.SetStatusCode(fasthttp.StatusNoContent)
	c.setAllowOrigin(ctx, origin)

	ctx.Response.Header.SetBytesV("Access-Control-Allow-Methods", c.allowedMethodsStr)
	ctx.Response.Header.SetBytesV("Access-Control-Allow-Headers", c.allowedHeadersStr)
	ctx.Response.Header.SetBytesV("Access-Control-Max-Age", c.maxAgeStr)
	ctx.Response.Header.SetBytesV("Vary", varyPreflightStr)
	ctx.Response.ResetBody()
}

func (c *CORSMiddleware) precompile() {
	c.allowsAll = len(c.corsConfig.AllowedOrigins) == 1 && c.corsConfig.AllowedOrigins[0] == "*"

	if !c.allowsAll {
		c.allowedOrigins = make(map[string]bool, len(c.corsConfig.AllowedOrigins))
		for _, origin := range c.corsConfig.AllowedOrigins {
			if strings.HasPrefix(origin, "*.") {
				c.wildcardDomains = append(c.wildcardDomains, strings.TrimPrefix(origin, "*."))
				continue
			}
			c.allowedOrigins[origin] = true
		}
	}

	c.allowedMethodsStr = []byte(strings.Join(c.corsConfig.AllowedMethods, ", "))
	c.allowedHeadersStr = []byte(strings.Join(c.corsConfig.AllowedHeaders, ", "))
	c.exposedHeadersStr = []byte(strings.Join(c.corsConfig.ExposedHeaders, ", "))
	c.maxAgeStr = []byte(strconv.Itoa(c.corsConfig.MaxAge))
}
