package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/access"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.Errorf(types.ErrConfigNotFound, "file not found: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

// LoadFromBytes expands ${VAR} references, applies defaults and validates.
func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	config := l.Defaults()
	if err := yaml.Unmarshal(expanded, config); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	if config.Permissions != nil && len(config.Permissions.Roles) > 0 {
		if _, err := access.NewTableFromConfig(config.Permissions.Roles); err != nil {
			return types.Errorf(types.ErrConfigValidateFailed, "permissions: %v", err)
		}
	}

	if tls := config.Server.TLS; tls != nil && tls.Enabled {
		if tls.AutoCert && len(tls.Domains) == 0 {
			return types.Errorf(types.ErrConfigValidateFailed, "tls: auto_cert requires domains")
		}
		if !tls.AutoCert && (tls.CertFile == "" || tls.KeyFile == "") {
			return types.Errorf(types.ErrConfigValidateFailed, "tls: cert_file and key_file are required")
		}
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "everest-gateway",
		Version: "dev",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:               "0.0.0.0",
				Port:               8080,
				ReadTimeout:        30 * time.Second,
				WriteTimeout:       30 * time.Second,
				IdleTimeout:        120 * time.Second,
				ShutdownTimeout:    15 * time.Second,
				MaxRequestBodySize: 10 << 20,
			},
			TLS: &types.TLSConfig{
				Enabled:  false,
				CacheDir: "./certs",
			},
		},
		Logger: &types.LoggerConfig{
			Type:   "default",
			Level:  "info",
			Format: "console",
		},
		Cache: &types.CacheConfig{
			Enabled:    true,
			Type:       "memory",
			DefaultTTL: 5 * time.Minute,
		},
		Cron: &types.CronConfig{
			Enabled:  true,
			Timezone: "America/Sao_Paulo",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
			Path:    "/metrics",
		},
		Health: &types.HealthConfig{
			Enabled: true,
			Path:    "/health",
			Timeout: 5 * time.Second,
		},
		Backend: &types.BackendConfig{
			Timeout:        10 * time.Second,
			Retries:        2,
			MaxConnections: 256,
			ProfilesTable:  "user_profiles",
			ProfileTTL:     5 * time.Minute,
			SessionTTL:     time.Minute,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 1,
			},
			Ranking: &types.RankingConfig{
				Enabled:  true,
				Schedule: "0 */5 * * * *",
				Table:    "user_ranking",
				Query:    "select=*&order=total_xp.desc&limit=100",
				TTL:      10 * time.Minute,
				Timeout:  30 * time.Second,
			},
		},
		Webhooks: &types.WebhooksConfig{
			Enabled: false,
			Path:    "/hooks/backend",
			Tables: map[string]*types.WebhookTableConfig{
				"community_posts": {Dependencies: []string{"community_posts"}},
				"user_ranking":    {Dependencies: []string{"ranking"}, Keys: []string{types.RankingSnapshotKey}},
			},
		},
		Docs: &types.DocsConfig{
			Enabled: true,
			Path:    "/openapi.json",
		},
		Middlewares: &types.MiddlewaresConfig{
			Enabled: true,
			Recovery: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  10,
				Params: map[string]interface{}{
					"stack_trace": true,
				},
			},
			Metadata: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  20,
				Params: map[string]interface{}{
					"generate_request_id": true,
				},
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  30,
				Params: map[string]interface{}{
					"log_level":   "info",
					"log_headers": false,
				},
			},
			CORS: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  40,
				Params: map[string]interface{}{
					"allowed_origins": []string{"*"},
					"allowed_methods": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
					"allowed_headers": []string{"Content-Type", "Authorization", "X-Request-ID"},
					"max_age":         86400,
				},
			},
			RateLimit: &types.MiddlewareItemConfig{
				Enabled: false,
				Weight:  50,
				Params: map[string]interface{}{
					"requests_per_minute": 300,
					"burst":               50,
				},
			},
			BodyLimit: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  60,
				Params: map[string]interface{}{
					"max_body_size": 10 << 20,
				},
			},
			Auth: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  70,
			},
			Access: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  80,
			},
			Compression: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  90,
				Params: map[string]interface{}{
					"min_size": 1024,
				},
			},
			Cache: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  100,
			},
		},
	}
}
