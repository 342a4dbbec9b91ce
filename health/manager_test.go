package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/config"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Name = "everest-test"
	cfg.Version = "1.2.3"
	cfg.Backend.URL = "http://baas.local"
	cfg.Backend.AnonKey = "anon"
	cfg.Health.Timeout = timeout

	cm, err := config.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	hm := NewManager(context.Background(), cm, logger.NewNop())
	require.NoError(t, hm.Start())
	t.Cleanup(func() { _ = hm.Stop() })

	return hm
}

func healthy(context.Context) types.HealthCheck {
	return types.HealthCheck{Status: types.StatusHealthy}
}

func TestCheck_AllHealthy(t *testing.T) {
	hm := newTestManager(t, time.Second)
	hm.RegisterChecker("cache", healthy)
	hm.RegisterChecker("backend", healthy)

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Healthy)
	assert.Equal(t, "everest-test", report.Service.Name)
	assert.Equal(t, "backend", report.Checks["backend"].Name)
}

func TestCheck_UnhealthyWins(t *testing.T) {
	hm := newTestManager(t, time.Second)
	hm.RegisterChecker("cache", healthy)
	hm.RegisterChecker("unknown", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})
	hm.RegisterChecker("backend", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "down"}
	})

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, 1, report.Summary.Unhealthy)
	assert.Equal(t, 1, report.Summary.Unknown)
	assert.Equal(t, "down", report.Checks["backend"].Message)
}

func TestCheck_TimeoutAndPanic(t *testing.T) {
	hm := newTestManager(t, 50*time.Millisecond)
	hm.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	hm.RegisterChecker("broken", func(context.Context) types.HealthCheck {
		panic("boom")
	})

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, "Health check timeout", report.Checks["slow"].Message)
	assert.Contains(t, report.Checks["broken"].Message, "boom")
}

func TestHandlers(t *testing.T) {
	hm := newTestManager(t, time.Second)
	hm.RegisterChecker("backend", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy}
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&fasthttp.Request{}, nil, nil)
	hm.handleHealth(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	assert.Equal(t, types.StatusUnhealthy, report.Status)

	ctx = &fasthttp.RequestCtx{}
	ctx.Init(&fasthttp.Request{}, nil, nil)
	hm.handleVersion(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var info types.VersionInfo
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestLifecycle(t *testing.T) {
	hm := newTestManager(t, time.Second)
	assert.True(t, hm.IsRunning())
	assert.ErrorIs(t, hm.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, hm.Stop())
	assert.False(t, hm.IsRunning())

	ctx := &fasthttp.RequestCtx{}
	hm.handleHealth(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}
