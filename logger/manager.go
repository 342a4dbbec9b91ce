package logger

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager owns the process logger and flushes it on shutdown.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	state  atomic.Value
}

var customLoggerCreators = make(map[string]types.LoggerCreator)

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	customLoggerCreators[loggerName] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager) (types.LoggerManager, error) {
	loggerConfig := config.GetConfig().Logger
	if loggerConfig == nil {
		loggerConfig = &types.LoggerConfig{Level: "info", Format: "console"}
	}

	logger, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	return newManager(ctx, logger), nil
}

// NewNop returns a running manager that discards everything.
func NewNop() types.LoggerManager {
	m := newManager(context.Background(), NewZapWrapper(zap.NewNop()))
	m.state.Store(StateRunning)
	return m
}

// NewFromZap wraps an existing zap logger, e.g. zaptest.NewLogger in tests.
func NewFromZap(logger *zap.Logger) types.LoggerManager {
	m := newManager(context.Background(), NewZapWrapper(logger))
	m.state.Store(StateRunning)
	return m
}

func newManager(ctx context.Context, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:    managerCtx,
		cancel: cancel,
		logger: logger,
	}
	m.state.Store(StateStopped)
	return m
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.setState(StateRunning)
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	return m.Sync()
}

func (m *Manager) Sync() error {
	if syncer, ok := m.logger.(interface{ Sync() error }); ok {
		// stdout/stderr return EINVAL on Sync for some platforms
		_ = syncer.Sync()
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	m.logger.ErrorWithErrStack(msg, err, fields...)
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
}

func (m *Manager) With(fields ...zap.Field) types.Logger {
	return m.logger.With(fields...)
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

func createLogger(loggerConfig *types.LoggerConfig) (types.Logger, error) {
	loggerName := "default"
	if loggerConfig.Type != "" {
		loggerName = loggerConfig.Type
	}

	switch loggerName {
	case "default", "zap":
		return NewDefaultLogger(loggerConfig)
	default:
		if creator, exists := customLoggerCreators[loggerName]; exists {
			return creator(loggerConfig)
		}
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
}
