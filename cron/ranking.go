package cron

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

const (
	RankingJobName    = "ranking-refresh"
	RankingDependency = "ranking"
)

// NewRankingJob reads the leaderboard with the service key and stores it under
// types.RankingSnapshotKey. Responses cached with the "ranking" dependency are
// invalidated on every refresh.
func NewRankingJob(backend types.Backend, cm types.CacheManager, config *types.RankingConfig, logger types.Logger) types.CronJob {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return func(ctx context.Context) error {
		body, err := backend.Select(ctx, "", config.Table, config.Query)
		if err != nil {
			return types.WrapError(err, "failed to fetch ranking")
		}

		var entries []map[string]interface{}
		if err := utils.Unmarshal(body, &entries); err != nil {
			return types.Errorf(types.ErrBackendResponseInvalid, "ranking: %v", err)
		}

		snapshot := types.RankingSnapshot{
			Entries:     entries,
			RefreshedAt: time.Now().UTC(),
		}

		if err := cm.Set(types.RankingSnapshotKey, snapshot, ttl); err != nil {
			return types.WrapError(err, "failed to store ranking snapshot")
		}

		if err := cache.TouchDependency(cm, RankingDependency); err != nil {
			logger.Warn("Failed to invalidate ranking responses", zap.Error(err))
		}

		logger.Debug("Ranking snapshot refreshed", zap.Int("entries", len(entries)))
		return nil
	}
}
