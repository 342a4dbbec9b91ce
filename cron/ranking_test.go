package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type rankingBackend struct {
	types.Backend
	body  string
	err   error
	token string
	table string
	query string
}

func (r *rankingBackend) Select(_ context.Context, token, table, query string) ([]byte, error) {
	r.token, r.table, r.query = token, table, query
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func TestRankingJob_StoresSnapshot(t *testing.T) {
	backend := &rankingBackend{body: `[{"user_id":"u1","total_xp":420},{"user_id":"u2","total_xp":300}]`}
	mc := cache.NewMemoryCache(logger.NewNop())
	require.NoError(t, mc.Start())

	job := NewRankingJob(backend, mc, &types.RankingConfig{Table: "user_ranking", Query: "select=*"}, logger.NewNop())
	require.NoError(t, job(context.Background()))

	assert.Empty(t, backend.token, "ranking is read with the service key")
	assert.Equal(t, "user_ranking", backend.table)
	assert.Equal(t, "select=*", backend.query)

	snapshot, ok := cache.Load[types.RankingSnapshot](mc, types.RankingSnapshotKey)
	require.True(t, ok)
	require.Len(t, snapshot.Entries, 2)
	assert.Equal(t, "u1", snapshot.Entries[0]["user_id"])
	assert.False(t, snapshot.RefreshedAt.IsZero())
	assert.NotEqual(t, "0", cache.Generation(mc, RankingDependency))
}

func TestRankingJob_Errors(t *testing.T) {
	mc := cache.NewMemoryCache(logger.NewNop())
	require.NoError(t, mc.Start())
	cfg := &types.RankingConfig{Table: "user_ranking"}

	failing := NewRankingJob(&rankingBackend{err: types.ErrBackendRequestFailed}, mc, cfg, logger.NewNop())
	assert.ErrorIs(t, failing(context.Background()), types.ErrBackendRequestFailed)

	garbage := NewRankingJob(&rankingBackend{body: `{"not":"a list"}`}, mc, cfg, logger.NewNop())
	assert.ErrorIs(t, garbage(context.Background()), types.ErrBackendResponseInvalid)

	_, ok := mc.Get(types.RankingSnapshotKey)
	assert.False(t, ok)
}
