package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"apikey":        true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

type LoggingMiddleware struct {
	logger        types.Logger
	metrics       types.MetricsManager
	loggingConfig *LoggingConfig
	level         zapcore.Level
	weight        int
}

type LoggingConfig struct {
	LogLevel   string `json:"log_level"`
	LogHeaders bool   `json:"log_headers"`
	LogBody    bool   `json:"log_body"`
}

func NewLoggingMiddleware(config types.ConfigManager, log types.Logger, metrics types.MetricsManager) *LoggingMiddleware {
	item := config.GetConfig().Middlewares.Logging
	loggingConfig := &LoggingConfig{LogLevel: "info"}
	decodeParams(log, "logging", item, loggingConfig)

	return &LoggingMiddleware{
		logger:        log,
		metrics:       metrics,
		loggingConfig: loggingConfig,
		level:         logger.ParseLevel(loggingConfig.LogLevel),
		weight:        itemWeight(item, 30),
	}
}

func (l *LoggingMiddleware) Name() string { return "logging" }
func (l *LoggingMiddleware) Weight() int  { return l.weight }

func (l *LoggingMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	start := time.Now()

	next(ctx)

	duration := time.Since(start)
	l.logResponse(ctx, duration)
	l.recordMetrics(ctx, duration)
}

func (l *LoggingMiddleware) logResponse(ctx *fasthttp.RequestCtx, duration time.Duration) {
	status := ctx.Response.StatusCode()

	fields := []zap.Field{
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("remote_addr", clientIP(ctx)),
	}

	if query := ctx.QueryArgs().QueryString(); len(query) > 0 {
		fields = append(fields, zap.ByteString("query", query))
	}

	if requestID := RequestIDFrom(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if identity, ok := IdentityFrom(ctx); ok {
		fields = append(fields,
			zap.String("user_id", identity.UserID),
			zap.String("role", identity.Role.String()))
	}

	if l.loggingConfig.LogHeaders {
		fields = append(fields, zap.Any("headers", sanitizeHeaders(ctx)))
	}

	if l.loggingConfig.LogBody {
		if body := ctx.Response.Body(); len(body) > 1000 {
			fields = append(fields, zap.ByteString("response", body[:1000]), zap.Int("response_size", len(body)))
		} else if len(body) > 0 {
			fields = append(fields, zap.ByteString("response", body))
		}
	}

	switch {
	case status >= 500:
		l.logger.Error("Request completed", fields...)
	case status >= 400:
		l.logger.Warn("Request completed", fields...)
	default:
		l.logger.Log(l.level, "Request completed", fields...)
	}
}

func (l *LoggingMiddleware) recordMetrics(ctx *fasthttp.RequestCtx, duration time.Duration) {
	if l.metrics == nil {
		return
	}

	route, _ := ctx.UserValue(RouteKey).(string)
	if route == "" {
		route = "unmatched"
	}

	method := string(ctx.Method())

	l.metrics.Counter("http_requests_total", map[string]string{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(ctx.Response.StatusCode()),
	}).Inc()

	l.metrics.Histogram("http_request_duration_seconds",
		[]float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		map[string]string{"method": method, "route": route},
	).Observe(duration.Seconds())
}

func sanitizeHeaders(ctx *fasthttp.RequestCtx) map[string]string {
	sanitized := make(map[string]string)

	ctx.Request.Header.VisitAll(func(key, value []byte) {
		name := string(key)
		if sensitiveHeaders[strings.ToLower(name)] {
			sanitized[name] = "[REDACTED]"
			return
		}
		sanitized[name] = string(value)
	})

	return sanitized
}
