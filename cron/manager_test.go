package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/config"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/metrics"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

func newTestManager(t *testing.T) (*Manager, *metrics.MemoryMetrics) {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Backend.URL = "http://baas.local"
	cfg.Backend.AnonKey = "anon"
	cm, err := config.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	mm := metrics.NewMemoryMetrics(logger.NewNop())
	require.NoError(t, mm.Start())

	m, err := NewManager(context.Background(), cm, logger.NewNop(), mm)
	require.NoError(t, err)
	return m, mm
}

func TestManager_AddValidation(t *testing.T) {
	m, _ := newTestManager(t)
	job := func(context.Context) error { return nil }

	assert.ErrorIs(t, m.Add("", "@every 1m", 0, job), types.ErrCronJobNameIsEmpty)
	assert.ErrorIs(t, m.Add("a", "", 0, job), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, m.Add("a", "@every 1m", 0, nil), types.ErrCronJobIsNil)
	assert.ErrorIs(t, m.Add("a", "not a schedule", 0, job), types.ErrCronExpressionInvalid)

	require.NoError(t, m.Add("a", "0 */5 * * * *", 0, job))
	assert.ErrorIs(t, m.Add("a", "@every 1m", 0, job), types.ErrCronJobExists)

	require.NoError(t, m.Remove("a"))
	assert.ErrorIs(t, m.Remove("a"), types.ErrCronJobNotFound)
	assert.Empty(t, m.Jobs())
}

func TestManager_RunRecordsStats(t *testing.T) {
	m, mm := newTestManager(t)

	fail := true
	require.NoError(t, m.Add("refresh", "@every 1h", time.Second, func(context.Context) error {
		if fail {
			return errors.New("backend down")
		}
		return nil
	}))

	require.Error(t, m.Run(context.Background(), "refresh"))
	fail = false
	require.NoError(t, m.Run(context.Background(), "refresh"))

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(2), jobs[0].RunCount)
	assert.Equal(t, int64(1), jobs[0].ErrorCount)
	assert.Empty(t, jobs[0].LastError)
	assert.False(t, jobs[0].LastRun.IsZero())

	assert.Equal(t, float64(1), mm.Counter("cron_job_executions_total", map[string]string{"job_name": "refresh", "result": "error"}).Get())
	assert.Equal(t, float64(1), mm.Counter("cron_job_executions_total", map[string]string{"job_name": "refresh", "result": "success"}).Get())

	assert.ErrorIs(t, m.Run(context.Background(), "missing"), types.ErrCronJobNotFound)
}

func TestManager_RunTimeoutAndPanic(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.Add("slow", "@every 1h", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, m.Add("broken", "@every 1h", time.Second, func(context.Context) error {
		panic("boom")
	}))

	assert.ErrorIs(t, m.Run(context.Background(), "slow"), types.ErrCronJobTimeout)
	assert.ErrorIs(t, m.Run(context.Background(), "broken"), types.ErrInternalError)
}

func TestManager_SchedulesJobs(t *testing.T) {
	m, _ := newTestManager(t)

	var runs atomic.Int32
	require.NoError(t, m.Add("tick", "* * * * * *", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)
	assert.True(t, m.IsRunning())

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, m.Jobs()[0].NextRun.IsZero())

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
}
