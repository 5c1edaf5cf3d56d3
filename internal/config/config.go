package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PortalConfig holds the print portal edge and client configuration.
type PortalConfig struct {
	App           AppConfig           `yaml:"app" validate:"required"`
	Server        ServerConfig        `yaml:"server" validate:"required"`
	Observability ObservabilityConfig `yaml:"observability"`
	Session       SessionConfig       `yaml:"session"`
	Cookie        CookieConfig        `yaml:"cookie"`
	Edge          EdgeConfig          `yaml:"edge"`
	Upstream      UpstreamConfig      `yaml:"upstream" validate:"required"`
	Client        ClientConfig        `yaml:"client"`
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
	ReadTimeout     string `yaml:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout    string `yaml:"write_timeout" validate:"omitempty,duration"`
	ShutdownTimeout string `yaml:"shutdown_timeout" validate:"omitempty,duration"`
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

// SessionConfig holds user profile persistence settings. Without a Redis
// address profiles are kept in memory.
type SessionConfig struct {
	Redis      RedisConfig `yaml:"redis"`
	Prefix     string      `yaml:"prefix"`
	ProfileTTL string      `yaml:"profile_ttl" validate:"omitempty,duration"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `yaml:"addr" validate:"required_with=MasterName"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db" validate:"min=0"`
	MasterName string `yaml:"master_name"`
}

// CookieConfig holds the refresh credential cookie attributes.
type CookieConfig struct {
	Name     string `yaml:"name"`
	Domain   string `yaml:"domain"`
	SameSite string `yaml:"same_site" validate:"omitempty,oneof=strict lax none"`
	MaxAge   string `yaml:"max_age" validate:"omitempty,duration"`
}

// EdgeConfig holds the page navigation gate settings.
type EdgeConfig struct {
	LoginPath              string            `yaml:"login_path" validate:"omitempty,startswith=/"`
	LoginWhenAuthenticated string            `yaml:"login_when_authenticated" validate:"omitempty,oneof=allow redirect"`
	PublicPrefixes         []string          `yaml:"public_prefixes" validate:"dive,startswith=/"`
	AdminPrefixes          []string          `yaml:"admin_prefixes" validate:"dive,startswith=/"`
	LandingPages           map[string]string `yaml:"landing_pages" validate:"dive,startswith=/"`
	FallbackLanding        string            `yaml:"fallback_landing" validate:"omitempty,startswith=/"`
	AllowedOrigins         []string          `yaml:"allowed_origins" validate:"dive,url"`
	Claims                 ClaimsConfig      `yaml:"claims"`
}

// ClaimsConfig selects how the edge decodes credential claims.
type ClaimsConfig struct {
	Mode       string   `yaml:"mode" validate:"omitempty,oneof=unverified hmac jwks"`
	HMACSecret string   `yaml:"hmac_secret" validate:"required_if=Mode hmac"`
	JWKSURL    string   `yaml:"jwks_url" validate:"required_if=Mode jwks,omitempty,url"`
	Issuer     string   `yaml:"issuer"`
	Algorithms []string `yaml:"algorithms"`
}

// UpstreamConfig holds the backend API and page renderer URLs.
type UpstreamConfig struct {
	BackendURL string `yaml:"backend_url" validate:"required,url"`
	PagesURL   string `yaml:"pages_url" validate:"omitempty,url"`
	Timeout    string `yaml:"timeout" validate:"omitempty,duration"`
}

// ClientConfig holds settings for Go clients of the portal edge.
type ClientConfig struct {
	EdgeURL         string `yaml:"edge_url" validate:"omitempty,url"`
	CookieFile      string `yaml:"cookie_file"`
	ProfileKey      string `yaml:"profile_key"`
	RefreshTimeout  string `yaml:"refresh_timeout" validate:"omitempty,duration"`
	TeardownTimeout string `yaml:"teardown_timeout" validate:"omitempty,duration"`
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *PortalConfig) SecureCookies() bool {
	return c.App.Environment != "dev"
}

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

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration against its validate tags.
func (c *PortalConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads the base YAML configuration, optionally merges an environment
// overlay, and validates the result.
func Load(basePath string, envPath ...string) (*PortalConfig, error) {
	data, err := os.ReadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg PortalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(envPath) > 0 && envPath[0] != "" {
		envData, err := os.ReadFile(envPath[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read env config: %w", err)
		}
		if err := yaml.Unmarshal(envData, &cfg); err != nil {
			return nil, fmt.Errorf("failed to merge env config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
