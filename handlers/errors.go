package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/backend"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

// backendStatus maps a backend failure to the status returned to the portal.
// Client errors from the backend pass through; everything else is a gateway error.
func backendStatus(err error) (int, string) {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status >= 400 && statusErr.Status < 500 {
			return statusErr.Status, fasthttp.StatusMessage(statusErr.Status)
		}
		return fasthttp.StatusBadGateway, "Backend request failed"
	}

	switch {
	case types.IsError(err, types.ErrCircuitBreakerOpen):
		return fasthttp.StatusServiceUnavailable, "Backend temporarily unavailable"
	case types.IsError(err, types.ErrBackendTimeout), types.IsError(err, context.DeadlineExceeded):
		return fasthttp.StatusGatewayTimeout, "Backend timeout"
	case types.IsError(err, types.ErrInvalidParameter):
		return fasthttp.StatusBadRequest, "Invalid request"
	default:
		return fasthttp.StatusBadGateway, "Backend request failed"
	}
}

func (h *Handlers) writeBackendError(ctx *fasthttp.RequestCtx, err error, resource string) {
	status, message := backendStatus(err)

	h.logger.Warn("Backend call failed",
		zap.String("resource", resource),
		zap.Int("status", status),
		zap.Error(err))

	utils.WriteError(ctx, status, message)
}
