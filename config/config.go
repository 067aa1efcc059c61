// Package config loads service configuration from YAML with environment
// variable expansion.
//
// Values support ${VAR} and ${VAR:-default} references, expanded before
// parsing, so the same file serves local development and deployed
// environments.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} references.
var envPattern = regexp.MustCompile(`\$\{(\w+)(?::-([^}]*))?\}`)

// Duration wraps time.Duration for YAML parsing of strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// RedisConfig configures the document store backend.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `yaml:"url"`
	// Prefix namespaces all document keys.
	Prefix string `yaml:"prefix"`
}

// StorageConfig configures archive object storage.
type StorageConfig struct {
	// Bucket is the S3 bucket name.
	Bucket string `yaml:"bucket"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`
	// Region is the bucket region.
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint for compatible providers.
	Endpoint string `yaml:"endpoint"`
	// UsePathStyle forces path-style addressing (MinIO et al).
	UsePathStyle bool `yaml:"use_path_style"`
}

// APIConfig configures the remote simulation-execution APIs.
type APIConfig struct {
	// RunsBaseURL is the run submission/polling API base URL.
	RunsBaseURL string `yaml:"runs_base_url"`
	// DataBaseURL is the dataset retrieval API base URL.
	DataBaseURL string `yaml:"data_base_url"`
	// Timeout bounds each HTTP request.
	Timeout Duration `yaml:"timeout"`
}

// CatalogConfig configures the simulator catalog.
type CatalogConfig struct {
	// BaseURL is the catalog API base URL.
	BaseURL string `yaml:"base_url"`
	// TTL is the catalog cache lifetime.
	TTL Duration `yaml:"ttl"`
}

// PollingConfig bounds run status polling.
type PollingConfig struct {
	// Interval is the delay between status polls.
	Interval Duration `yaml:"interval"`
	// MaxDuration caps total wait per run.
	MaxDuration Duration `yaml:"max_duration"`
	// AbortOnNotFound terminates unknown-run-id runs instead of
	// re-polling within the budget.
	AbortOnNotFound bool `yaml:"abort_on_not_found"`
}

// RetryConfig bounds remote API step retries.
type RetryConfig struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval Duration `yaml:"initial_interval"`
	// BackoffCoefficient multiplies the delay after each attempt.
	BackoffCoefficient float64 `yaml:"backoff_coefficient"`
	// MaxInterval caps the delay between attempts.
	MaxInterval Duration `yaml:"max_interval"`
	// MaxAttempts is the total attempt budget.
	MaxAttempts int `yaml:"max_attempts"`
}

// Config is the root service configuration.
type Config struct {
	Redis   RedisConfig   `yaml:"redis"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Catalog CatalogConfig `yaml:"catalog"`
	Polling PollingConfig `yaml:"polling"`
	Retry   RetryConfig   `yaml:"retry"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			URL:    "redis://localhost:6379/0",
			Prefix: "verisim",
		},
		API: APIConfig{
			Timeout: Duration{30 * time.Second},
		},
		Catalog: CatalogConfig{
			TTL: Duration{time.Hour},
		},
		Polling: PollingConfig{
			Interval:        Duration{5 * time.Second},
			MaxDuration:     Duration{time.Hour},
			AbortOnNotFound: true,
		},
		Retry: RetryConfig{
			InitialInterval:    Duration{time.Second},
			BackoffCoefficient: 2.0,
			MaxInterval:        Duration{30 * time.Second},
			MaxAttempts:        5,
		},
	}
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} references with the
// environment value, or the default when the variable is unset or empty.
func ExpandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		name, fallback := string(groups[1]), groups[2]
		if value := os.Getenv(name); value != "" {
			return []byte(value)
		}
		return fallback
	})
}

// Load reads and parses a config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the service relies on.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("config: redis.url is required")
	}
	if c.API.RunsBaseURL == "" {
		return fmt.Errorf("config: api.runs_base_url is required")
	}
	if c.API.DataBaseURL == "" {
		return fmt.Errorf("config: api.data_base_url is required")
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("config: catalog.base_url is required")
	}
	if c.Polling.Interval.Duration <= 0 {
		return fmt.Errorf("config: polling.interval must be positive")
	}
	if c.Polling.MaxDuration.Duration <= 0 {
		return fmt.Errorf("config: polling.max_duration must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	return nil
}
