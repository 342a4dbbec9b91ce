package sai

import (
	"context"

	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/action"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/backend"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cache"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/cron"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/documentations"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/handlers"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/health"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/metrics"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/middleware"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/server"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/tls"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

// Container holds every component of the gateway. Optional components are nil
// when disabled in configuration.
type Container struct {
	Config      types.ConfigManager
	Logger      types.LoggerManager
	Metrics     types.MetricsManager
	Health      *health.Manager
	TLS         *tls.CertManager
	Cache       types.CacheManager
	Backend     *backend.Client
	Resolver    *backend.ProfileResolver
	Table       *access.Table
	Middlewares *middleware.Manager
	Router      *server.Router
	HTTPServer  *server.FastHTTPServer
	Cron        *cron.Manager
	Handlers    *handlers.Handlers
	Webhooks    *action.WebhookReceiver
	Docs        *documentations.DocumentationManager
}

type options struct {
	logger        types.LoggerManager
	serverOptions []server.Option
	backendOpts   []backend.Option
}

type Option func(*options)

// WithLogger skips building a logger from configuration.
func WithLogger(logger types.LoggerManager) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithServerOptions(opts ...server.Option) Option {
	return func(o *options) {
		o.serverOptions = append(o.serverOptions, opts...)
	}
}

func WithBackendOptions(opts ...backend.Option) Option {
	return func(o *options) {
		o.backendOpts = append(o.backendOpts, opts...)
	}
}

// NewContainer builds the components in dependency order and registers their routes.
// Nothing is started.
func NewContainer(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*Container, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Container{Config: configManager}
	_config := configManager.GetConfig()

	if o.logger != nil {
		c.Logger = o.logger
	} else {
		loggerManager, err := logger.NewManager(ctx, configManager)
		if err != nil {
			return nil, types.WrapError(err, "failed to register logger")
		}
		c.Logger = loggerManager
	}

	if _config.Health != nil && _config.Health.Enabled {
		c.Health = health.NewManager(ctx, configManager, c.Logger)
	}

	if _config.Metrics != nil && _config.Metrics.Enabled {
		metricsManager, err := metrics.NewManager(ctx, configManager, c.Logger)
		if err != nil {
			return nil, types.WrapError(err, "failed to register metrics manager")
		}
		c.Metrics = metricsManager
	}

	var healthManager types.HealthManager
	if c.Health != nil {
		healthManager = c.Health
	}

	if tlsConfig := _config.Server.TLS; tlsConfig != nil && tlsConfig.Enabled {
		certManager, err := tls.NewCertManager(ctx, c.Logger, configManager, healthManager)
		if err != nil {
			return nil, types.WrapError(err, "failed to register TLS manager")
		}
		c.TLS = certManager
	}

	cacheManager, err := cache.NewCacheManager(ctx, configManager, c.Logger, c.Metrics, healthManager)
	switch {
	case types.IsError(err, types.ErrCacheIsDisabled):
		// Profiles and sessions still need somewhere to live.
		c.Logger.Warn("Cache disabled, using an unshared in-memory store")
		c.Cache = cache.NewMemoryCache(c.Logger)
	case err != nil:
		return nil, types.WrapError(err, "failed to register cache manager")
	default:
		c.Cache = cacheManager
	}

	backendOpts := o.backendOpts
	if c.Metrics != nil {
		backendOpts = append([]backend.Option{backend.WithMetrics(c.Metrics)}, backendOpts...)
	}

	c.Backend, err = backend.NewClient(ctx, c.Logger, _config.Backend, backendOpts...)
	if err != nil {
		return nil, types.WrapError(err, "failed to register backend client")
	}
	if c.Health != nil {
		c.Health.RegisterChecker("backend", backend.NewHealthChecker(c.Backend))
	}

	c.Resolver = backend.NewProfileResolver(c.Backend, c.Cache, c.Logger, _config.Backend)

	c.Table = access.DefaultTable()
	if _config.Permissions != nil && len(_config.Permissions.Roles) > 0 {
		c.Table, err = access.NewTableFromConfig(_config.Permissions.Roles)
		if err != nil {
			return nil, types.WrapError(err, "failed to build permission table")
		}
	}

	c.Middlewares = middleware.NewManager(ctx, configManager, c.Logger, c.Metrics, c.Cache, c.Resolver, c.Table)
	if err := c.Middlewares.RegisterMiddlewares(); err != nil {
		return nil, types.WrapError(err, "failed to register middlewares")
	}

	var cronManager types.CronManager
	if _config.Cron != nil && _config.Cron.Enabled {
		c.Cron, err = cron.NewManager(ctx, configManager, c.Logger, c.Metrics)
		if err != nil {
			return nil, types.WrapError(err, "failed to register cron manager")
		}
		cronManager = c.Cron

		if ranking := _config.Backend.Ranking; ranking != nil && ranking.Enabled {
			job := cron.NewRankingJob(c.Backend, c.Cache, ranking, c.Logger)
			if err := c.Cron.Add(cron.RankingJobName, ranking.Schedule, ranking.Timeout, job); err != nil {
				return nil, types.WrapError(err, "failed to schedule ranking refresh")
			}
		}
	}

	c.Router = server.NewRouter()

	if c.Health != nil {
		c.Health.RegisterRoutes(c.Router)
	}
	if c.Metrics != nil {
		c.Metrics.RegisterRoutes(c.Router)
	}

	c.Handlers = handlers.NewHandlers(c.Logger, c.Backend, c.Cache, c.Table, cronManager, _config.Backend)
	c.Handlers.Register(c.Router)

	if _config.Webhooks != nil && _config.Webhooks.Enabled {
		c.Webhooks, err = action.NewWebhookReceiver(configManager, c.Logger, c.Metrics, c.Cache, c.Resolver)
		if err != nil {
			return nil, types.WrapError(err, "failed to register webhook receiver")
		}
		c.Webhooks.RegisterRoutes(c.Router)
	}

	if _config.Docs != nil && _config.Docs.Enabled {
		c.Docs = documentations.NewDocumentationManager(configManager, c.Logger, c.Router)
		c.Docs.RegisterRoutes(c.Router)
	}

	var tlsManager types.TLSManager
	if c.TLS != nil {
		tlsManager = c.TLS
	}

	c.HTTPServer, err = server.NewHTTPServer(ctx, configManager, c.Logger, c.Metrics, c.Middlewares, tlsManager, c.Router, o.serverOptions...)
	if err != nil {
		return nil, types.WrapError(err, "failed to register HTTP server")
	}

	c.Logger.Debug("Container built",
		zap.Bool("health", c.Health != nil),
		zap.Bool("metrics", c.Metrics != nil),
		zap.Bool("tls", c.TLS != nil),
		zap.Bool("cron", c.Cron != nil),
		zap.Bool("webhooks", c.Webhooks != nil),
		zap.Bool("docs", c.Docs != nil))

	return c, nil
}
