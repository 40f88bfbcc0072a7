// ABOUTME: Configuration loading for the blvckwall client CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultRequestTimeout bounds every call to the portal gateway.
const DefaultRequestTimeout = 10 * time.Second

// ClientConfig configures the blvckwall CLI.
type ClientConfig struct {
	Gateway ClientGatewayConfig `toml:"gateway"`
	Storage ClientStorageConfig `toml:"storage"`
	Logging LoggingConfig       `toml:"logging"`
}

// ClientGatewayConfig points the CLI at a portal gateway. An empty URL keeps
// every operation on the device-local store under the demo identity.
type ClientGatewayConfig struct {
	URL string `toml:"url"`

	Timeout    time.Duration `toml:"-"`
	TimeoutRaw string        `toml:"timeout"`
}

// ClientStorageConfig locates the device-local encrypted store.
type ClientStorageConfig struct {
	Path   string `toml:"path"`
	Prefix string `toml:"prefix"`
}

// ClientPath returns the path to the client config file.
// Priority: BLVCKWALL_CLIENT_CONFIG env var > XDG_CONFIG_HOME/blvckwall/client.toml
func ClientPath() string {
	if envPath := os.Getenv("BLVCKWALL_CLIENT_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "client.toml")
}

// DefaultClientConfig returns the configuration used when no file exists.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Gateway: ClientGatewayConfig{Timeout: DefaultRequestTimeout},
		Storage: ClientStorageConfig{Path: filepath.Join(DataPath(), "local.db")},
		Logging: LoggingConfig{Level: "warn"},
	}
}

// LoadClient reads the client config from path. A missing file yields the defaults.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Gateway.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Gateway.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing gateway.timeout %q: %w", cfg.Gateway.TimeoutRaw, err)
		}
		cfg.Gateway.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the client config is usable.
func (c *ClientConfig) Validate() error {
	if c.Gateway.URL != "" {
		u, err := url.Parse(c.Gateway.URL)
		if err != nil {
			return fmt.Errorf("gateway.url is invalid: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("gateway.url must use http or https scheme, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("gateway.url must include a host")
		}
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}
