package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig contains local store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig contains S3-compatible snapshot storage settings.
type RemoteConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	ObjectKey string `yaml:"object_key"`
	UseSSL    *bool  `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
}

// Configured reports whether a remote store is set up at all. Without
// one the app runs local-only and sync commands refuse to start.
func (r RemoteConfig) Configured() bool {
	return r.Bucket != ""
}

// SyncConfig contains sync orchestrator settings.
type SyncConfig struct {
	Interval        Duration `yaml:"interval"`
	MinInterval     Duration `yaml:"min_interval"`
	FetchRetries    int      `yaml:"fetch_retries"`
	FetchBackoff    Duration `yaml:"fetch_backoff"`
	PublishRetries  int      `yaml:"publish_retries"`
	DiagnosticsSize int      `yaml:"diagnostics_size"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("WATCHSYNC_CONFIG_PATH", "config/watchsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "data/watchsync.db",
		},
		Remote: RemoteConfig{
			Region:    "us-east-1",
			ObjectKey: "shared/watchlist.json",
		},
		Sync: SyncConfig{
			Interval:        Duration(5 * time.Minute),
			MinInterval:     Duration(30 * time.Second),
			FetchRetries:    3,
			FetchBackoff:    Duration(500 * time.Millisecond),
			PublishRetries:  3,
			DiagnosticsSize: 64,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("WATCHSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Remote
	if v := os.Getenv("WATCHSYNC_S3_ENDPOINT"); v != "" {
		cfg.Remote.Endpoint = v
	}
	if v := os.Getenv("WATCHSYNC_S3_BUCKET"); v != "" {
		cfg.Remote.Bucket = v
	}
	if v := os.Getenv("WATCHSYNC_S3_REGION"); v != "" {
		cfg.Remote.Region = v
	}
	if v := os.Getenv("WATCHSYNC_S3_OBJECT_KEY"); v != "" {
		cfg.Remote.ObjectKey = v
	}
	if v := os.Getenv("WATCHSYNC_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Remote.UseSSL = &useSSL
	}
	if v := os.Getenv("WATCHSYNC_S3_ACCESS_KEY"); v != "" {
		cfg.Remote.AccessKey = v
	}
	if v := os.Getenv("WATCHSYNC_S3_SECRET_KEY"); v != "" {
		cfg.Remote.SecretKey = v
	}

	// Sync
	if v := os.Getenv("WATCHSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("WATCHSYNC_SYNC_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.MinInterval = Duration(d)
		}
	}
	if v := os.Getenv("WATCHSYNC_FETCH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.FetchRetries = n
		}
	}
	if v := os.Getenv("WATCHSYNC_FETCH_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.FetchBackoff = Duration(d)
		}
	}
	if v := os.Getenv("WATCHSYNC_PUBLISH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PublishRetries = n
		}
	}

	// Server
	if v := os.Getenv("WATCHSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WATCHSYNC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("WATCHSYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("WATCHSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("WATCHSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WATCHSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that the configuration is internally consistent.
// A missing remote is allowed (local-only mode); a half-configured one
// is not.
func (c *Config) validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Remote.Configured() {
		if c.Remote.Endpoint == "" {
			return errors.New("remote.endpoint is required when remote.bucket is set")
		}
		if c.Remote.AccessKey == "" {
			return errors.New("WATCHSYNC_S3_ACCESS_KEY is required when remote.bucket is set")
		}
		if c.Remote.SecretKey == "" {
			return errors.New("WATCHSYNC_S3_SECRET_KEY is required when remote.bucket is set")
		}
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
