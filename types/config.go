package types

import (
	"time"
)

type ConfigManager interface {
	LifecycleManager
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Backend     *BackendConfig     `yaml:"backend" json:"backend" validate:"required"`
	Permissions *PermissionsConfig `yaml:"permissions" json:"permissions"`
	Webhooks    *WebhooksConfig    `yaml:"webhooks" json:"webhooks"`
	Docs        *DocsConfig        `yaml:"docs" json:"docs"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
}

type HTTPConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxRequestBodySize int           `yaml:"max_request_body_size" json:"max_request_body_size" validate:"min=0"`
}

type TLSConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	CertFile string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile  string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	AutoCert bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains  []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Email    string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
}

type LoggerConfig struct {
	Type   string `yaml:"type" json:"type"`
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=json console"`
	Output string `yaml:"output" json:"output"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Type       string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}   `yaml:"config" json:"config"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type MiddlewaresConfig struct {
	Enabled     bool                  `yaml:"enabled" json:"enabled"`
	Auth        *MiddlewareItemConfig `yaml:"auth" json:"auth"`
	Access      *MiddlewareItemConfig `yaml:"access" json:"access"`
	Metadata    *MiddlewareItemConfig `yaml:"metadata" json:"metadata"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	Cache       *MiddlewareItemConfig `yaml:"cache" json:"cache"`
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	CORS        *MiddlewareItemConfig `yaml:"cors" json:"cors"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
	BodyLimit   *MiddlewareItemConfig `yaml:"body_limit" json:"body_limit"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

// CacheHandlerConfig enables the response cache on a route. Entries are scoped to
// the calling user unless Shared is set, in which case every caller with the same
// role reads the same entry.
type CacheHandlerConfig struct {
	Key    string        `validate:"required,min=1"`
	TTL    time.Duration `validate:"min=0"`
	Deps   []string      `validate:"dive,min=1"`
	Shared bool
}

type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Prefix  string            `yaml:"prefix" json:"prefix"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
	Path    string            `yaml:"path" json:"path"`
}

type HealthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Path    string        `yaml:"path" json:"path"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type BackendConfig struct {
	URL            string                `yaml:"url" json:"url" validate:"required,url"`
	AnonKey        string                `yaml:"anon_key" json:"anon_key" validate:"required"`
	ServiceKey     string                `yaml:"service_key" json:"service_key"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout"`
	Retries        int                   `yaml:"retries" json:"retries" validate:"min=0,max=10"`
	MaxConnections int                   `yaml:"max_connections" json:"max_connections" validate:"min=0"`
	ProfilesTable  string                `yaml:"profiles_table" json:"profiles_table"`
	ProfileTTL     time.Duration         `yaml:"profile_ttl" json:"profile_ttl" validate:"min=0"`
	SessionTTL     time.Duration         `yaml:"session_ttl" json:"session_ttl" validate:"min=0"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Ranking        *RankingConfig        `yaml:"ranking" json:"ranking"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests" validate:"min=0"`
}

type RankingConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Schedule string        `yaml:"schedule" json:"schedule" validate:"required_if=Enabled true"`
	Table    string        `yaml:"table" json:"table"`
	Query    string        `yaml:"query" json:"query"`
	TTL      time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

type PermissionsConfig struct {
	Roles map[string][]string `yaml:"roles" json:"roles"`
}

// WebhooksConfig controls the receiver for row-change events posted by the backend.
type WebhooksConfig struct {
	Enabled bool                           `yaml:"enabled" json:"enabled"`
	Path    string                         `yaml:"path" json:"path"`
	Secret  string                         `yaml:"secret" json:"secret" validate:"required_if=Enabled true"`
	Tables  map[string]*WebhookTableConfig `yaml:"tables" json:"tables"`
}

// WebhookTableConfig lists what goes stale when a row of the table changes.
type WebhookTableConfig struct {
	Dependencies []string `yaml:"dependencies" json:"dependencies"`
	Keys         []string `yaml:"keys" json:"keys"`
}

type DocsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}
