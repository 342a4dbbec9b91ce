package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

// Manager selects a metrics backend and hands out no-op instruments while stopped,
// so callers never have to nil-check.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	manager types.MetricsManager
	state   atomic.Value
}

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil {
		metricsConfig = &types.MetricsConfig{Type: "memory"}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	wrapper := &Manager{
		ctx:    managerCtx,
		cancel: cancel,
		logger: logger,
	}
	wrapper.state.Store(ManagerStateStopped)

	if err := wrapper.initializeManager(metricsConfig); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	return wrapper, nil
}

func (w *Manager) initializeManager(metricsConfig *types.MetricsConfig) error {
	var manager types.MetricsManager
	var err error

	switch metricsConfig.Type {
	case "", "memory":
		manager = NewMemoryMetrics(w.logger)
	case "prometheus":
		manager, err = NewPrometheusMetrics(w.logger, metricsConfig)
	default:
		if creator, exists := customMetricsCreators.Load(metricsConfig.Type); exists {
			manager, err = creator.(types.MetricsManagerCreator)(metricsConfig, w.logger)
		} else {
			return types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
		}
	}

	if err != nil {
		return err
	}

	w.manager = manager
	w.logger.Info("Metrics manager initialized", zap.String("type", metricsConfig.Type))
	return nil
}

func (w *Manager) Start() error {
	if !w.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := w.manager.Start(); err != nil {
		w.setState(ManagerStateStopped)
		return types.WrapError(err, "failed to start metrics manager")
	}

	w.setState(ManagerStateRunning)
	w.logger.Info("Metrics manager started successfully")
	return nil
}

func (w *Manager) Stop() error {
	if !w.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		w.setState(ManagerStateStopped)
		w.cancel()
	}()

	if err := w.manager.Stop(); err != nil {
		w.logger.Error("Error during metrics manager shutdown", zap.Error(err))
		return err
	}

	w.logger.Info("Metrics manager stopped gracefully")
	return nil
}

func (w *Manager) IsRunning() bool {
	return w.getState() == ManagerStateRunning
}

func (w *Manager) RegisterRoutes(router types.HTTPRouter) {
	w.manager.RegisterRoutes(router)
}

func (w *Manager) Counter(name string, labels map[string]string) types.Counter {
	if w.IsRunning() {
		return w.manager.Counter(name, labels)
	}
	return emptyCounter{}
}

func (w *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	if w.IsRunning() {
		return w.manager.Gauge(name, labels)
	}
	return emptyGauge{}
}

func (w *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if w.IsRunning() {
		return w.manager.Histogram(name, buckets, labels)
	}
	return emptyHistogram{}
}

func (w *Manager) getState() ManagerState {
	return w.state.Load().(ManagerState)
}

func (w *Manager) setState(newState ManagerState) bool {
	currentState := w.getState()
	return w.state.CompareAndSwap(currentState, newState)
}

func (w *Manager) transitionState(from, to ManagerState) bool {
	return w.state.CompareAndSwap(from, to)
}

type emptyCounter struct{}

func (emptyCounter) Inc()          {}
func (emptyCounter) Add(_ float64) {}
func (emptyCounter) Get() float64  { return 0 }

type emptyGauge struct{}

func (emptyGauge) Set(_ float64) {}
func (emptyGauge) Inc()          {}
func (emptyGauge) Dec()          {}
func (emptyGauge) Add(_ float64) {}
func (emptyGauge) Get() float64  { return 0 }

type emptyHistogram struct{}

func (emptyHistogram) Observe(_ float64)           {}
func (emptyHistogram) ObserveDuration(_ time.Time) {}
func (emptyHistogram) GetCount() uint64            { return 0 }
func (emptyHistogram) GetSum() float64             { return 0 }
