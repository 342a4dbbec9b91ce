package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       types.ConfigManager
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Value
	path         string
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	hm := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		path:         "/health",
		checkTimeout: 5 * time.Second,
	}

	if healthConfig := config.GetConfig().Health; healthConfig != nil {
		if healthConfig.Path != "" {
			hm.path = healthConfig.Path
		}
		if healthConfig.Timeout > 0 {
			hm.checkTimeout = healthConfig.Timeout
		}
	}

	hm.state.Store(StateStopped)
	return hm
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Check runs every checker concurrently. A checker that outlives the timeout is
// reported unhealthy.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return hm.buildReport(results)
}

func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		hm.logger.Warn("Health manager is already running")
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.setState(StateRunning)

	hm.logger.Info("Health manager started", zap.String("path", hm.path))
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		hm.logger.Warn("Health manager is not running")
		return types.ErrServerNotRunning
	}

	hm.cancel()
	hm.setState(StateStopped)

	hm.logger.Info("Health manager stopped gracefully")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) getState() State {
	return hm.state.Load().(State)
}

func (hm *Manager) setState(newState State) bool {
	currentState := hm.getState()
	return hm.state.CompareAndSwap(currentState, newState)
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(from, to)
}

func (hm *Manager) RegisterRoutes(router types.HTTPRouter) {
	config := &types.RouteConfig{
		Timeout:             hm.checkTimeout + time.Second,
		DisabledMiddlewares: []string{"auth", "access", "cache", "logging", "rate_limit"},
	}

	router.Add(fasthttp.MethodGet, "/version", hm.handleVersion, config)
	router.Add(fasthttp.MethodGet, hm.path, hm.handleHealth, config)
}

func (hm *Manager) handleVersion(ctx *fasthttp.RequestCtx) {
	cfg := hm.config.GetConfig()

	utils.WriteJSON(ctx, fasthttp.StatusOK, types.VersionInfo{
		Name:      cfg.Name,
		Version:   cfg.Version,
		GoVersion: runtime.Version(),
	})
}

func (hm *Manager) handleHealth(ctx *fasthttp.RequestCtx) {
	if !hm.IsRunning() {
		utils.WriteError(ctx, fasthttp.StatusServiceUnavailable, "health manager is not running")
		return
	}

	report := hm.Check(ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	utils.WriteJSON(ctx, status, report)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()
	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("Health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-hm.ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health manager shutting down"}
	case <-ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health check timeout"}
	}

	result.Name = name
	result.LastCheck = start
	result.Duration = time.Since(start)
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	config := hm.config.GetConfig()

	summary := types.HealthSummary{
		Total: len(results),
	}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overallStatus = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overallStatus == types.StatusHealthy {
				overallStatus = types.StatusUnknown
			}
		}
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service: types.ServiceInfo{
			Name:    config.Name,
			Version: config.Version,
		},
		Checks:  results,
		Summary: summary,
	}
}
