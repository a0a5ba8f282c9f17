// Package config handles Steward configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/steward/config.yaml, /etc/steward/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "steward", "config.yaml"))
	}

	paths = append(paths, "/etc/steward/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Steward configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	Platform  PlatformConfig `yaml:"platform"`
	Registry  RegistryConfig `yaml:"registry"`
	Push      PushConfig     `yaml:"push"`
	Weather   WeatherConfig  `yaml:"weather"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // "text" or "json"
}

// ListenConfig defines the lifecycle HTTP server settings. The platform
// calls back into this server for enable/disable and task triggers.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// PlatformConfig defines the connection to the host collaboration platform.
type PlatformConfig struct {
	// URL is the platform base URL (e.g., "https://cloud.example.com").
	URL string `yaml:"url"`
	// AppID identifies this external app to the platform.
	AppID string `yaml:"app_id"`
	// AppVersion is reported in authentication headers.
	AppVersion string `yaml:"app_version"`
	// Secret is the shared secret issued when the app was deployed.
	Secret string `yaml:"secret"`
}

// RegistryConfig tunes the tool registry.
type RegistryConfig struct {
	// CacheTTLSeconds is how long a per-user tool discovery result is
	// reused before availability is probed again (default 60).
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// PushConfig defines the optional websocket push listener. When enabled,
// Steward connects to the platform's push endpoint and uses incoming
// frames as a fast-path signal that new tasks may be queued.
type PushConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint overrides the derived push URL. Empty means derive from
	// the platform URL.
	Endpoint string `yaml:"endpoint"`
}

// WeatherConfig defines the weather tool's upstream API endpoints.
type WeatherConfig struct {
	// ForecastURL is the forecast API base (default: open-meteo).
	ForecastURL string `yaml:"forecast_url"`
	// GeocodingURL is the geocoding API base.
	GeocodingURL string `yaml:"geocoding_url"`
}

// Load reads configuration from a YAML file and applies environment
// overrides. Deployment orchestrators pass connection parameters through
// the environment (APP_ID, APP_SECRET, APP_PORT, NEXTCLOUD_URL,
// APP_PERSISTENT_STORAGE), which always win over file values so that a
// stale config file cannot break a managed install.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 23000},
		Platform: PlatformConfig{
			AppID:      "steward",
			AppVersion: "1.0.0",
		},
		Registry: RegistryConfig{CacheTTLSeconds: 60},
		Weather: WeatherConfig{
			ForecastURL:  "https://api.open-meteo.com/v1/forecast",
			GeocodingURL: "https://geocoding-api.open-meteo.com/v1/search",
		},
		DataDir:   ".",
		LogLevel:  "info",
		LogFormat: "text",
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("APP_ID"); v != "" {
		c.Platform.AppID = v
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		c.Platform.AppVersion = v
	}
	if v := os.Getenv("APP_SECRET"); v != "" {
		c.Platform.Secret = v
	}
	if v := os.Getenv("NEXTCLOUD_URL"); v != "" {
		c.Platform.URL = v
	}
	if v := os.Getenv("APP_HOST"); v != "" {
		c.Listen.Address = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Listen.Port = port
		}
	}
	if v := os.Getenv("APP_PERSISTENT_STORAGE"); v != "" {
		c.DataDir = v
	}
}

// KeyFilePath returns the location of the token signing key.
func (c *Config) KeyFilePath() string {
	return filepath.Join(c.DataDir, "secret_key.bin")
}

// AuditDBPath returns the location of the audit trail database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// Validate checks that required settings are present for serving.
func (c *Config) Validate() error {
	if c.Platform.URL == "" {
		return fmt.Errorf("platform.url is required (or set NEXTCLOUD_URL)")
	}
	if c.Platform.Secret == "" {
		return fmt.Errorf("platform.secret is required (or set APP_SECRET)")
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port out of range: %d", c.Listen.Port)
	}
	return nil
}
