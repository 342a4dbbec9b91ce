package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/config"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/metrics"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

const testSecret = "hook-secret"

type forgetfulResolver struct {
	forgotten []string
}

func (f *forgetfulResolver) Resolve(context.Context, string) (*types.Identity, error) {
	return nil, types.ErrBackendUnauthorized
}

func (f *forgetfulResolver) Forget(userID string) {
	f.forgotten = append(f.forgotten, userID)
}

type receiverFixture struct {
	receiver *WebhookReceiver
	cache    *cache.MemoryCache
	resolver *forgetfulResolver
	metrics  *metrics.MemoryMetrics
}

func newReceiver(t *testing.T) *receiverFixture {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Backend.URL = "http://baas.local"
	cfg.Backend.AnonKey = "anon"
	cfg.Webhooks.Enabled = true
	cfg.Webhooks.Secret = testSecret

	cm, err := config.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	f := &receiverFixture{
		cache:    cache.NewMemoryCache(logger.NewNop()),
		resolver: &forgetfulResolver{},
		metrics:  metrics.NewMemoryMetrics(logger.NewNop()),
	}
	require.NoError(t, f.cache.Start())
	require.NoError(t, f.metrics.Start())

	f.receiver, err = NewWebhookReceiver(cm, logger.NewNop(), f.metrics, f.cache, f.resolver)
	require.NoError(t, err)
	require.NoError(t, f.receiver.Start())
	t.Cleanup(func() { _ = f.receiver.Stop() })

	return f
}

func (f *receiverFixture) post(body, signature string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetBodyString(body)
	if signature != "" {
		ctx.Request.Header.Set(SignatureHeader, signature)
	}

	f.receiver.handleEvent(ctx)
	return ctx
}

func (f *receiverFixture) signedPost(body string) *fasthttp.RequestCtx {
	return f.post(body, Sign(testSecret, []byte(body)))
}

func TestNewWebhookReceiver_RequiresSecret(t *testing.T) {
	cfg := config.NewLoader().Defaults()
	cfg.Backend.URL = "http://baas.local"
	cfg.Backend.AnonKey = "anon"

	cm, err := config.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	_, err = NewWebhookReceiver(cm, logger.NewNop(), nil, cache.NewMemoryCache(logger.NewNop()), nil)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"INSERT"}`)
	signature := Sign("s3cret", payload)

	assert.True(t, VerifySignature("s3cret", payload, signature))
	assert.False(t, VerifySignature("other", payload, signature))
	assert.False(t, VerifySignature("s3cret", []byte(`{}`), signature))
	assert.False(t, VerifySignature("s3cret", payload, signature[len("sha256="):]))
	assert.False(t, VerifySignature("", payload, Sign("", payload)))
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newReceiver(t)

	ctx := f.post(`{"type":"INSERT","table":"community_posts"}`, "sha256=deadbeef")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = f.post(`{"type":"INSERT","table":"community_posts"}`, "")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	rejected := f.metrics.Counter("webhook_events_total", map[string]string{"table": "", "type": "", "result": "rejected"})
	assert.Equal(t, 2.0, rejected.Get())
}

func TestWebhook_TouchesDependencies(t *testing.T) {
	f := newReceiver(t)
	before := cache.Generation(f.cache, "community_posts")

	ctx := f.signedPost(`{"type":"INSERT","table":"community_posts","record":{"id":7}}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var result EventResult
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &result))
	assert.Equal(t, []string{"community_posts"}, result.Dependencies)
	assert.NotEqual(t, before, cache.Generation(f.cache, "community_posts"))
}

func TestWebhook_InvalidatesRankingSnapshot(t *testing.T) {
	f := newReceiver(t)
	require.NoError(t, f.cache.Set(types.RankingSnapshotKey, types.RankingSnapshot{}, time.Minute))

	ctx := f.signedPost(`{"type":"UPDATE","table":"user_ranking","record":{"user_id":"u1","total_xp":10}}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	_, ok := f.cache.Get(types.RankingSnapshotKey)
	assert.False(t, ok)
	assert.NotEqual(t, "0", cache.Generation(f.cache, "ranking"))
}

func TestWebhook_ForgetsChangedProfiles(t *testing.T) {
	f := newReceiver(t)

	ctx := f.signedPost(`{"type":"DELETE","table":"user_profiles","old_record":{"user_id":"u-42","role":"student"}}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	assert.Equal(t, []string{"u-42"}, f.resolver.forgotten)
}

func TestWebhook_UnmappedTableIsAcknowledged(t *testing.T) {
	f := newReceiver(t)

	ctx := f.signedPost(`{"type":"INSERT","table":"audit_log"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	stats, err := f.cache.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestWebhook_InvalidPayloads(t *testing.T) {
	f := newReceiver(t)

	ctx := f.signedPost(`not json`)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = f.signedPost(`{"type":"TRUNCATE","table":"community_posts"}`)
	assert.Equal(t, fasthttp.StatusUnprocessableEntity, ctx.Response.StatusCode())
}

func TestWebhook_StoppedReceiver(t *testing.T) {
	f := newReceiver(t)
	require.NoError(t, f.receiver.Stop())

	ctx := f.signedPost(`{"type":"INSERT","table":"community_posts"}`)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	require.NoError(t, f.receiver.Start())
}
