// ABOUTME: Configuration loading and parsing for blvckwall-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding field is left empty.
const (
	DefaultAccessTTL       = time.Hour
	DefaultRefreshTTL      = 30 * 24 * time.Hour
	DefaultProviderTimeout = 10 * time.Second
	DefaultLoginAttempts   = 5
	DefaultLoginWindow     = 60 * time.Second
)

// Provider modes accepted in the providers section.
const (
	ModeLive = "live"
	ModeDemo = "demo"
)

// Config represents the complete blvckwall-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// SecureCookies marks the session cookie Secure; enable behind TLS.
	SecureCookies bool `yaml:"secure_cookies"`
}

// DatabaseConfig selects the relational store. Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	AccessTTL  time.Duration `yaml:"-"`
	RefreshTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AccessTTLRaw  string `yaml:"access_ttl"`
	RefreshTTLRaw string `yaml:"refresh_ttl"`
}

// RateLimitConfig configures the login limiter. An empty RedisURL keeps the
// limiter in process memory.
type RateLimitConfig struct {
	RedisURL string `yaml:"redis_url"`
	Attempts int    `yaml:"attempts"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// ProvidersConfig holds one entry per external SaaS capability.
type ProvidersConfig struct {
	Telephony   ProviderConfig `yaml:"telephony"`
	Voice       ProviderConfig `yaml:"voice"`
	Video       ProviderConfig `yaml:"video"`
	Translation ProviderConfig `yaml:"translation"`
	Card        ProviderConfig `yaml:"card"`
	Ledger      ProviderConfig `yaml:"ledger"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// ProviderConfig configures a single provider adapter.
type ProviderConfig struct {
	Mode    string `yaml:"mode"` // "live" or "demo"; empty means demo
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// IsLive reports whether the provider talks to the real service.
func (p ProviderConfig) IsLive() bool {
	return p.Mode == ModeLive
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls the OpenTelemetry tracer provider installed by serve.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Path returns the path to the gateway config file.
// Priority: BLVCKWALL_CONFIG env var > XDG_CONFIG_HOME/blvckwall/gateway.yaml > ~/.config/blvckwall/gateway.yaml
func Path() string {
	if envPath := os.Getenv("BLVCKWALL_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "gateway.yaml")
}

// DataPath returns the blvckwall data directory.
// Priority: XDG_DATA_HOME/blvckwall > ~/.local/share/blvckwall
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "blvckwall")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "blvckwall")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Auth.AccessTTL == 0 {
		cfg.Auth.AccessTTL = DefaultAccessTTL
	}
	if cfg.Auth.RefreshTTL == 0 {
		cfg.Auth.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.RateLimit.Attempts == 0 {
		cfg.RateLimit.Attempts = DefaultLoginAttempts
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultLoginWindow
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = DefaultProviderTimeout
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "blvckwall-gateway"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "", "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (use sqlite or postgres)", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.RateLimit.Attempts < 0 {
		return fmt.Errorf("ratelimit.attempts must not be negative")
	}

	providers := []struct {
		name string
		cfg  ProviderConfig
	}{
		{"telephony", c.Providers.Telephony},
		{"voice", c.Providers.Voice},
		{"video", c.Providers.Video},
		{"translation", c.Providers.Translation},
		{"card", c.Providers.Card},
		{"ledger", c.Providers.Ledger},
	}
	for _, p := range providers {
		switch p.cfg.Mode {
		case "", ModeDemo:
		case ModeLive:
			if p.cfg.APIKey == "" {
				return fmt.Errorf("providers.%s.api_key is required in live mode", p.name)
			}
			if p.cfg.BaseURL == "" {
				return fmt.Errorf("providers.%s.base_url is required in live mode", p.name)
			}
		default:
			return fmt.Errorf("providers.%s.mode %q must be live or demo", p.name, p.cfg.Mode)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"access_ttl", cfg.Auth.AccessTTLRaw, &cfg.Auth.AccessTTL},
		{"refresh_ttl", cfg.Auth.RefreshTTLRaw, &cfg.Auth.RefreshTTL},
		{"ratelimit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"providers.timeout", cfg.Providers.TimeoutRaw, &cfg.Providers.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
