package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultJobTimeout = 30 * time.Minute

// Manager schedules named jobs on a seconds-resolution cron. A run that is still
// in progress when its next tick fires is skipped.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	timezone        *time.Location
	jobs            map[string]*types.JobEntry
	mu              sync.RWMutex
	state           atomic.Value
	jobsCtx         context.Context
	jobsCancel      context.CancelFunc
	shutdownTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	timezone := time.UTC
	if cronConfig := config.GetConfig().Cron; cronConfig != nil && cronConfig.Timezone != "" {
		location, err := time.LoadLocation(cronConfig.Timezone)
		if err != nil {
			logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", cronConfig.Timezone), zap.Error(err))
		} else {
			timezone = location
		}
	}

	cronL := cronLogger{logger: logger}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		config:  config,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronL), cron.SkipIfStillRunning(cronL)),
		),
		timezone:        timezone,
		jobs:            make(map[string]*types.JobEntry),
		shutdownTimeout: 10 * time.Second,
	}

	manager.jobsCtx, manager.jobsCancel = context.WithCancel(managerCtx)
	manager.state.Store(StateStopped)

	return manager, nil
}

// Add schedules job under jobName. A zero timeout uses the default of 30 minutes.
func (m *Manager) Add(jobName, spec string, timeout time.Duration, job types.CronJob) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "%s", jobName)
	}

	entryID, err := m.cron.AddFunc(spec, func() {
		_ = m.runJob(m.currentJobsCtx(), jobName)
	})
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	m.jobs[jobName] = &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		Job:     job,
		Timeout: timeout,
		AddedAt: time.Now(),
	}

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec),
		zap.Duration("timeout", timeout))

	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	return nil
}

// Run executes a job immediately, outside its schedule, and returns its error.
func (m *Manager) Run(ctx context.Context, jobName string) error {
	return m.runJob(ctx, jobName)
}

func (m *Manager) Jobs() []types.JobInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]types.JobInfo, 0, len(m.jobs))
	for _, entry := range m.jobs {
		info := types.JobInfo{
			Name:         entry.Name,
			Spec:         entry.Spec,
			LastRun:      entry.LastRun,
			LastDuration: entry.LastDuration,
			RunCount:     entry.RunCount,
			ErrorCount:   entry.ErrorCount,
		}
		if entry.LastError != nil {
			info.LastError = entry.LastError.Error()
		}
		if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
			info.NextRun = cronEntry.Next
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.mu.Lock()
	if m.jobsCtx.Err() != nil {
		m.jobsCtx, m.jobsCancel = context.WithCancel(m.ctx)
	}
	m.mu.Unlock()

	m.cron.Start()
	m.setState(StateRunning)
	m.setSchedulerStatus(1)

	m.logger.Info("Cron manager started",
		zap.String("timezone", m.timezone.String()),
		zap.Int("jobs", len(m.Jobs())))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer m.setState(StateStopped)

	m.mu.RLock()
	cancelJobs := m.jobsCancel
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cancelJobs()
		return nil
	})

	g.Go(func() error {
		stopCtx := m.cron.Stop()

		select {
		case <-stopCtx.Done():
			return nil
		case <-gCtx.Done():
			return types.ErrCronJobTimeout
		}
	})

	m.setSchedulerStatus(0)

	if err := g.Wait(); err != nil {
		m.logger.Warn("Cron manager stop timeout, some jobs may not have stopped gracefully", zap.Error(err))
		return err
	}

	m.logger.Info("Cron scheduler stopped gracefully")
	return nil
}

func (m *Manager) currentJobsCtx() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobsCtx
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) runJob(parent context.Context, jobName string) error {
	m.mu.RLock()
	entry, exists := m.jobs[jobName]
	var job types.CronJob
	var timeout time.Duration
	if exists {
		job, timeout = entry.Job, entry.Timeout
	}
	m.mu.RUnlock()

	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	jobCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	m.addActiveJobs(1)
	defer m.addActiveJobs(-1)

	m.logger.Debug("Cron job started", zap.String("job_name", jobName))

	startTime := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.Errorf(types.ErrInternalError, "job panic: %v", r)
			}
		}()
		done <- job(jobCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-jobCtx.Done():
		if types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
			err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", timeout)
		} else {
			err = types.WrapError(jobCtx.Err(), "job canceled")
		}
	}

	duration := time.Since(startTime)
	m.recordRun(jobName, startTime, duration, err)

	if err != nil {
		m.logger.Error("Cron job failed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration),
			zap.Error(err))
		return err
	}

	m.logger.Info("Cron job completed",
		zap.String("job_name", jobName),
		zap.Duration("duration", duration))
	return nil
}

func (m *Manager) recordRun(jobName string, startTime time.Time, duration time.Duration, err error) {
	m.mu.Lock()
	if entry, exists := m.jobs[jobName]; exists {
		entry.LastRun = startTime
		entry.LastDuration = duration
		entry.TotalDuration += duration
		entry.RunCount++
		entry.LastError = err
		if err != nil {
			entry.ErrorCount++
		}
	}
	m.mu.Unlock()

	if m.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()

	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.1, 1.0, 10.0, 60.0, 300.0, 1800.0},
		map[string]string{"job_name": jobName},
	).Observe(duration.Seconds())
}

func (m *Manager) addActiveJobs(delta float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_active_jobs", nil).Add(delta)
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

// cronLogger adapts types.Logger to cron.Logger.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
