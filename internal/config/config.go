package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// BFFConfig holds the incident BFF configuration.
type BFFConfig struct {
	App           AppConfig           `yaml:"app" validate:"required"`
	Server        ServerConfig        `yaml:"server" validate:"required"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth" validate:"required"`
	Session       SessionConfig       `yaml:"session"`
	CSRF          CSRFConfig          `yaml:"csrf"`
	CORS          CORSConfig          `yaml:"cors"`
	Frontend      FrontendConfig      `yaml:"frontend"`
	Upstream      UpstreamConfig      `yaml:"upstream" validate:"required"`
}

// AppConfig identifies the service.
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"required,oneof=dev staging prod"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds log/trace/metrics settings.
type ObservabilityConfig struct {
	Log     LogConfig     `yaml:"log"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig holds the OAuth client registration.
type AuthConfig struct {
	// InstanceURL is the ServiceNow instance; the authorization and token
	// endpoints are derived from it unless DiscoveryURL is set.
	InstanceURL   string   `yaml:"instance_url" validate:"omitempty,url"`
	AuthorizePath string   `yaml:"authorize_path"`
	TokenPath     string   `yaml:"token_path"`
	DiscoveryURL  string   `yaml:"discovery_url" validate:"omitempty,url"`
	ClientID      string   `yaml:"client_id" validate:"required"`
	ClientSecret  string   `yaml:"client_secret"`
	RedirectURI   string   `yaml:"redirect_uri" validate:"required,url"`
	Scopes        []string `yaml:"scopes"`
	HTTPTimeout   string   `yaml:"http_timeout"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=memory redis"`

	// TTL is the absolute lifetime of an authenticated session. "0" disables it.
	TTL                  string             `yaml:"ttl"`
	JanitorInterval      string             `yaml:"janitor_interval"`
	DropOnRefreshFailure bool               `yaml:"drop_on_refresh_failure"`
	Prefix               string             `yaml:"prefix"`
	Redis                RedisSessionConfig `yaml:"redis"`
}

// RedisSessionConfig holds Redis connection parameters for session storage.
type RedisSessionConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MasterName string `yaml:"master_name"`
}

// CSRFConfig holds CSRF protection settings.
type CSRFConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HeaderName string `yaml:"header_name"`
}

// CORSConfig lists the browser origins allowed to call the BFF with credentials.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// FrontendConfig locates the single page application.
type FrontendConfig struct {
	// URL is where the browser is sent after a successful callback.
	URL string `yaml:"url" validate:"omitempty,url"`
}

// UpstreamConfig holds the resource API settings.
type UpstreamConfig struct {
	// BaseURL defaults to auth.instance_url when empty.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Table   string `yaml:"table"`
	Timeout string `yaml:"timeout"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultFrontendURL = "http://localhost:5173/"
	DefaultTable       = "incident"
)

// ParseDuration parses a duration string with a fallback default.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads the base YAML configuration and optionally merges an environment overlay.
func Load(basePath string, envPath ...string) (*BFFConfig, error) {
	data, err := os.ReadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg BFFConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(envPath) > 0 && envPath[0] != "" {
		if err := mergeFromFile(&cfg, envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to merge env config: %w", err)
		}
	}

	return &cfg, nil
}

// MergeEnv overrides instance-specific values and secrets from the process
// environment. lookup is os.LookupEnv outside tests.
func (c *BFFConfig) MergeEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("SN_INSTANCE"); ok && v != "" {
		c.Auth.InstanceURL = v
	}
	if v, ok := lookup("CLIENT_ID"); ok && v != "" {
		c.Auth.ClientID = v
	}
	if v, ok := lookup("CLIENT_SECRET"); ok && v != "" {
		c.Auth.ClientSecret = v
	}
	if v, ok := lookup("REDIRECT_URI"); ok && v != "" {
		c.Auth.RedirectURI = v
	}
	if v, ok := lookup("FRONTEND_URL"); ok && v != "" {
		c.Frontend.URL = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok && v != "" {
		c.Session.Redis.Password = v
	}
}

// ApplyDefaults fills optional fields that have a fixed fallback.
func (c *BFFConfig) ApplyDefaults() {
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Frontend.URL == "" {
		c.Frontend.URL = DefaultFrontendURL
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{originOf(c.Frontend.URL)}
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = c.Auth.InstanceURL
	}
	if c.Upstream.Table == "" {
		c.Upstream.Table = DefaultTable
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

// Validate runs struct validation and the cross-field checks tags cannot express.
func (c *BFFConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Auth.InstanceURL == "" && c.Auth.DiscoveryURL == "" {
		return fmt.Errorf("config validation failed: auth.instance_url or auth.discovery_url is required")
	}
	if c.Session.Backend == "redis" && c.Session.Redis.Addr == "" {
		return fmt.Errorf("config validation failed: session.redis.addr is required for the redis backend")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("config validation failed: upstream.base_url or auth.instance_url is required")
	}
	return nil
}
