package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/config"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cron"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/sai"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
	container       *sai.Container
	logger          types.Logger
}

// NewService loads configPath and builds every component.
func NewService(ctx context.Context, configPath string, opts ...sai.Option) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "file does not exist")
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return New(ctx, configManager, opts...)
}

// New builds a service around an already loaded configuration.
func New(ctx context.Context, configManager types.ConfigManager, opts ...sai.Option) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	container, err := sai.NewContainer(serviceCtx, configManager, opts...)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register providers")
	}

	shutdownTimeout := 30 * time.Second
	if httpConfig := configManager.GetConfig().Server.HTTP; httpConfig != nil && httpConfig.ShutdownTimeout > 0 {
		// Room for the HTTP drain plus the remaining components.
		shutdownTimeout = 2 * httpConfig.ShutdownTimeout
	}

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		container:       container,
		logger:          container.Logger,
		done:            make(chan struct{}),
		shutdownTimeout: shutdownTimeout,
		startTimeout:    60 * time.Second,
	}

	s.state.Store(StateStopped)
	return s, nil
}

// Start runs the service and blocks until it is stopped or its context ends.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service")

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		if stopErr := s.stopComponents(); stopErr != nil {
			s.logger.Warn("Cleanup after failed start", zap.Error(stopErr))
		}
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger.Info("Service stopped gracefully")
	return nil
}

// Stop asks a running service to shut down; Start returns once it has.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) Container() *sai.Container {
	return s.container
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) startComponents(ctx context.Context) error {
	c := s.container

	for _, step := range []struct {
		name    string
		manager types.LifecycleManager
	}{
		{"config manager", c.Config},
		{"logger", c.Logger},
	} {
		if err := startOnce(ctx, step.manager); err != nil {
			return types.WrapError(err, "failed to start "+step.name)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	optional := map[string]types.LifecycleManager{"cache manager": c.Cache, "backend client": c.Backend}
	if c.Health != nil {
		optional["health manager"] = c.Health
	}
	if c.Metrics != nil {
		optional["metrics manager"] = c.Metrics
	}
	if c.TLS != nil {
		optional["tls manager"] = c.TLS
	}
	if c.Webhooks != nil {
		optional["webhook receiver"] = c.Webhooks
	}
	if c.Docs != nil {
		optional["documentation manager"] = c.Docs
	}

	for name, manager := range optional {
		g.Go(func() error {
			if err := startOnce(gCtx, manager); err != nil {
				return types.WrapError(err, "failed to start "+name)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return err
		}
	}

	if err := startOnce(ctx, c.Middlewares); err != nil {
		return types.WrapError(err, "failed to start middleware manager")
	}

	if err := startOnce(ctx, c.HTTPServer); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	if c.Cron != nil {
		if err := startOnce(ctx, c.Cron); err != nil {
			return types.WrapError(err, "failed to start cron manager")
		}
		s.warmRanking()
	}

	s.logger.Info("All components started successfully")
	return nil
}

// warmRanking fills the ranking snapshot once so the first requests skip the backend.
func (s *Service) warmRanking() {
	c := s.container
	for _, job := range c.Cron.Jobs() {
		if job.Name != cron.RankingJobName {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := c.Cron.Run(s.ctx, cron.RankingJobName); err != nil {
				s.logger.Warn("Initial ranking refresh failed", zap.Error(err))
			}
		}()
		return
	}
}

func startOnce(ctx context.Context, manager types.LifecycleManager) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if manager.IsRunning() {
		return nil
	}
	return manager.Start()
}

func stopIfRunning(manager types.LifecycleManager) error {
	if !manager.IsRunning() {
		return nil
	}
	return manager.Stop()
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	c := s.container
	var errs []error

	s.logger.Info("Stopping service components...")

	// Stop taking requests first.
	if err := stopIfRunning(c.HTTPServer); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
		errs = append(errs, err)
	}

	first := map[string]types.LifecycleManager{"middleware manager": c.Middlewares}
	if c.Cron != nil {
		first["cron manager"] = c.Cron
	}
	if c.Webhooks != nil {
		first["webhook receiver"] = c.Webhooks
	}
	if err := s.stopGroup(ctx, first); err != nil {
		errs = append(errs, err)
	}

	second := map[string]types.LifecycleManager{"cache manager": c.Cache, "backend client": c.Backend}
	if c.TLS != nil {
		second["tls manager"] = c.TLS
	}
	if c.Metrics != nil {
		second["metrics manager"] = c.Metrics
	}
	if c.Health != nil {
		second["health manager"] = c.Health
	}
	if c.Docs != nil {
		second["documentation manager"] = c.Docs
	}
	if err := s.stopGroup(ctx, second); err != nil {
		errs = append(errs, err)
	}

	if err := c.Logger.Sync(); err != nil {
		s.logger.Debug("Logger sync failed", zap.Error(err))
	}

	if err := stopIfRunning(c.Config); err != nil {
		s.logger.Error("Failed to stop config manager", zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func (s *Service) stopGroup(ctx context.Context, managers map[string]types.LifecycleManager) error {
	g, gCtx := errgroup.WithContext(ctx)

	for name, manager := range managers {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			if err := stopIfRunning(manager); err != nil {
				s.logger.Error("Failed to stop "+name, zap.Error(err))
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
	}
	return err
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.logger.Info("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}
