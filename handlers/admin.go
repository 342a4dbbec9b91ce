package handlers

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type invalidateResponse struct {
	Key     string `json:"key"`
	Removed bool   `json:"removed"`
}

func (h *Handlers) handleCacheStats(ctx *fasthttp.RequestCtx) {
	stats, err := h.cache.Stats()
	if err != nil {
		h.logger.Error("Failed to read cache stats", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, stats)
}

// handleCacheInvalidate removes one key, taken from the "key" query parameter or
// the last path segment. Keys containing "/" (every response-cache key) can only
// be passed as a query parameter.
func (h *Handlers) handleCacheInvalidate(ctx *fasthttp.RequestCtx) {
	key := string(ctx.QueryArgs().Peek("key"))
	if key == "" {
		key, _ = ctx.UserValue("key").(string)
	}
	if key == "" {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Cache key is required")
		return
	}

	removed := h.cache.Invalidate(key)
	h.logger.Info("Cache entry invalidated", zap.String("key", key), zap.Bool("removed", removed))

	utils.WriteJSON(ctx, fasthttp.StatusOK, invalidateResponse{Key: key, Removed: removed})
}

func (h *Handlers) handleCacheClear(ctx *fasthttp.RequestCtx) {
	if err := h.cache.Clear(); err != nil {
		h.logger.Error("Failed to clear cache", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	h.logger.Info("Cache cleared")
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]bool{"cleared": true})
}

func (h *Handlers) handleJobs(ctx *fasthttp.RequestCtx) {
	jobs := []types.JobInfo{}
	if h.cron != nil {
		jobs = h.cron.Jobs()
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, jobs)
}
