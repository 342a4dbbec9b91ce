package middleware

import (
	"runtime"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type RecoveryMiddleware struct {
	logger         types.Logger
	metrics        types.MetricsManager
	recoveryConfig *RecoveryConfig
	weight         int
}

type RecoveryConfig struct {
	StackTrace bool `json:"stack_trace"`
}

func NewRecoveryMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *RecoveryMiddleware {
	item := config.GetConfig().Middlewares.Recovery
	recoveryConfig := &RecoveryConfig{StackTrace: true}
	decodeParams(logger, "recovery", item, recoveryConfig)

	return &RecoveryMiddleware{
		logger:         logger,
		metrics:        metrics,
		recoveryConfig: recoveryConfig,
		weight:         itemWeight(item, 10),
	}
}

func (r *RecoveryMiddleware) Name() string { return "recovery" }
func (r *RecoveryMiddleware) Weight() int  { return r.weight }

func (r *RecoveryMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logPanic(rec, ctx)

			if r.metrics != nil {
				r.metrics.Counter("http_panics_total", map[string]string{"path": string(ctx.Path())}).Inc()
			}

			ctx.Response.ResetBody()
			utils.CreateErrorResponse(ctx)
		}
	}()

	next(ctx)
}

func (r *RecoveryMiddleware) logPanic(rec interface{}, ctx *fasthttp.RequestCtx) {
	fields := []zap.Field{
		zap.Any("panic", rec),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.String("remote_addr", ctx.RemoteIP().String()),
	}

	if r.recoveryConfig.StackTrace {
		fields = append(fields, zap.String("stack", stackTrace()))
	}

	if requestID := RequestIDFrom(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	r.logger.Error("Recovered from panic", fields...)
}

func stackTrace() string {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) || len(buf) >= 64<<10 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*4)
	}
}
