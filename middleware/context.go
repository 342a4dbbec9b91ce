package middleware

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

const (
	IdentityKey  = "identity"
	RequestIDKey = "request_id"
	MetadataKey  = "metadata"
	RouteKey     = "route"

	HeaderRequestID = "X-Request-ID"
)

func IdentityFrom(ctx *fasthttp.RequestCtx) (*types.Identity, bool) {
	identity, ok := ctx.UserValue(IdentityKey).(*types.Identity)
	return identity, ok && identity != nil
}

func RequestIDFrom(ctx *fasthttp.RequestCtx) string {
	if id, ok := ctx.UserValue(RequestIDKey).(string); ok {
		return id
	}
	return string(ctx.Response.Header.Peek(HeaderRequestID))
}

func itemWeight(item *types.MiddlewareItemConfig, fallback int) int {
	if item == nil || item.Weight == 0 {
		return fallback
	}
	return item.Weight
}

func decodeParams[T any](logger types.Logger, name string, item *types.MiddlewareItemConfig, target *T) {
	if item == nil || item.Params == nil {
		return
	}

	if err := utils.UnmarshalConfig(item.Params, target); err != nil {
		logger.Error("Failed to unmarshal middleware config", zap.String("middleware", name), zap.Error(err))
	}
}
