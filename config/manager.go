package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	state       atomic.Value
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := newConfigurationManager(ctx, configPath)

	if err := cm.Load(); err != nil {
		cm.cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewFromConfig wraps an already built config; it is validated but not read from disk.
func NewFromConfig(ctx context.Context, config *types.ServiceConfig) (*ConfigurationManager, error) {
	cm := newConfigurationManager(ctx, "")

	if err := cm.loader.Validate(config); err != nil {
		cm.cancel()
		return nil, err
	}

	cm.config.Store(config)
	cm.parser.Store(NewParser(nil))
	return cm, nil
}

func newConfigurationManager(ctx context.Context, configPath string) *ConfigurationManager {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}
	cm.state.Store(StateStopped)
	return cm
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	cm.setState(StateRunning)
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	cm.setState(StateStopped)
	cm.cancel()
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

// Load re-reads the file. Components built from the previous config keep it.
func (cm *ConfigurationManager) Load() error {
	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, raw, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.config.Store(config)
	cm.parser.Store(NewParser(raw))
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *ConfigurationManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}
