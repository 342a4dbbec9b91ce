package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type MetadataMiddleware struct {
	logger         types.Logger
	metadataConfig *MetadataConfig
	weight         int
}

type MetadataConfig struct {
	GenerateRequestID bool `json:"generate_request_id"`
	TrustProxyHeaders bool `json:"trust_proxy_headers"`
}

func NewMetadataMiddleware(config types.ConfigManager, logger types.Logger) *MetadataMiddleware {
	item := config.GetConfig().Middlewares.Metadata
	metadataConfig := &MetadataConfig{GenerateRequestID: true, TrustProxyHeaders: true}
	decodeParams(logger, "metadata", item, metadataConfig)

	return &MetadataMiddleware{
		logger:         logger,
		metadataConfig: metadataConfig,
		weight:         itemWeight(item, 20),
	}
}

func (m *MetadataMiddleware) Name() string { return "metadata" }
func (m *MetadataMiddleware) Weight() int  { return m.weight }

// Handle assigns the request id (incoming X-Request-ID wins) and echoes it on the response.
func (m *MetadataMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	requestID := string(ctx.Request.Header.Peek(HeaderRequestID))
	if requestID == "" && m.metadataConfig.GenerateRequestID {
		requestID = uuid.NewString()
	}

	metadata := map[string]string{
		"real_ip": m.clientIP(ctx),
	}

	if requestID != "" {
		metadata[RequestIDKey] = requestID
		ctx.SetUserValue(RequestIDKey, requestID)
		ctx.Response.Header.Set(HeaderRequestID, requestID)
	}

	ctx.SetUserValue(MetadataKey, metadata)

	next(ctx)

	if requestID != "" {
		ctx.Response.Header.Set(HeaderRequestID, requestID)
	}
}

func (m *MetadataMiddleware) clientIP(ctx *fasthttp.RequestCtx) string {
	if m.metadataConfig.TrustProxyHeaders {
		return clientIP(ctx)
	}
	return ctx.RemoteIP().String()
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}

	return ctx.RemoteIP().String()
}
