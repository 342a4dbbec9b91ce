package middleware

import (
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type BodyLimitMiddleware struct {
	bodyLimitConfig *BodyLimitConfig
	weight          int
	message         string
}

type BodyLimitConfig struct {
	MaxBodySize int64 `json:"max_body_size"`
}

func NewBodyLimitMiddleware(config types.ConfigManager, logger types.Logger) *BodyLimitMiddleware {
	item := config.GetConfig().Middlewares.BodyLimit
	bodyLimitConfig := &BodyLimitConfig{MaxBodySize: 1 << 20}
	decodeParams(logger, "body_limit", item, bodyLimitConfig)

	return &BodyLimitMiddleware{
		bodyLimitConfig: bodyLimitConfig,
		weight:          itemWeight(item, 60),
		message:         fmt.Sprintf("Request body exceeds maximum size of %d bytes", bodyLimitConfig.MaxBodySize),
	}
}

func (bl *BodyLimitMiddleware) Name() string { return "body_limit" }
func (bl *BodyLimitMiddleware) Weight() int  { return bl.weight }

func (bl *BodyLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if ctx.IsGet() || ctx.IsHead() || ctx.IsOptions() {
		next(ctx)
		return
	}

	if contentLength := ctx.Request.Header.ContentLength(); contentLength > 0 && int64(contentLength) > bl.bodyLimitConfig.MaxBodySize {
		bl.reject(ctx)
		return
	}

	if int64(len(ctx.PostBody())) > bl.bodyLimitConfig.MaxBodySize {
		bl.reject(ctx)
		return
	}

	next(ctx)
}

func (bl *BodyLimitMiddleware) reject(ctx *fasthttp.RequestCtx) {
	ctx.SetConnectionClose()
	utils.WriteError(ctx, fasthttp.StatusRequestEntityTooLarge, bl.message)
}
