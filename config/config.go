package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"learnkit/adapters/redis"
	"learnkit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"LEARNKIT_ENV"`
	Profile     string      `json:"profile" env:"LEARNKIT_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Progress engine tuning
	Progress ProgressConfig `json:"progress"`

	// Analytics reporting
	Analytics AnalyticsConfig `json:"analytics"`

	// Outbound integrations
	Webhooks WebhookConfig `json:"webhooks"`

	// Security configuration
	Security SecurityConfig `json:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"LEARNKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"LEARNKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"LEARNKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"LEARNKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"LEARNKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"LEARNKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"LEARNKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"LEARNKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"LEARNKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"LEARNKIT_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LEARNKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"LEARNKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"LEARNKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ProgressConfig tunes the completion pipeline.
type ProgressConfig struct {
	// EnrollmentRetries is how many extra progress reads a completion makes
	// before rejecting with not_enrolled; delays double from EnrollmentBaseDelay.
	EnrollmentRetries   int           `json:"enrollment_retries" env:"LEARNKIT_PROGRESS_ENROLLMENT_RETRIES"`
	EnrollmentBaseDelay time.Duration `json:"enrollment_base_delay" env:"LEARNKIT_PROGRESS_ENROLLMENT_BASE_DELAY"`
	ReadRetries         int           `json:"read_retries" env:"LEARNKIT_PROGRESS_READ_RETRIES"`
	ReadBaseDelay       time.Duration `json:"read_base_delay" env:"LEARNKIT_PROGRESS_READ_BASE_DELAY"`
	AutoBadgeCheck      bool          `json:"auto_badge_check" env:"LEARNKIT_PROGRESS_AUTO_BADGE_CHECK"`
	// LeaderboardRebuildInterval reloads the all-time board; zero disables the cache.
	LeaderboardRebuildInterval time.Duration `json:"leaderboard_rebuild_interval" env:"LEARNKIT_PROGRESS_LEADERBOARD_REBUILD"`
	AsyncEvents                bool          `json:"async_events" env:"LEARNKIT_PROGRESS_ASYNC_EVENTS"`
	EventQueueSize             int           `json:"event_queue_size" env:"LEARNKIT_PROGRESS_EVENT_QUEUE_SIZE"`
}

// AnalyticsConfig controls in-process KPI aggregation.
type AnalyticsConfig struct {
	Enabled bool   `json:"enabled" env:"LEARNKIT_ANALYTICS_ENABLED"`
	Path    string `json:"path" env:"LEARNKIT_ANALYTICS_PATH"`
}

// WebhookConfig lists endpoints that receive domain events.
type WebhookConfig struct {
	Endpoints []string      `json:"endpoints,omitempty" env:"LEARNKIT_WEBHOOK_ENDPOINTS"`
	Events    []string      `json:"events,omitempty" env:"LEARNKIT_WEBHOOK_EVENTS"`
	Secret    string        `json:"secret,omitempty" env:"LEARNKIT_WEBHOOK_SECRET"`
	Timeout   time.Duration `json:"timeout" env:"LEARNKIT_WEBHOOK_TIMEOUT"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"LEARNKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"LEARNKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"LEARNKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"LEARNKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"LEARNKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

// Load builds the configuration from defaults and LEARNKIT_* variables.
func Load() (*Config, error) {
	return finish(DefaultConfig())
}

// LoadFromFile reads a JSON or YAML document over the defaults. Keys follow
// the json tags; unknown keys are rejected and durations may be written as
// "250ms" strings or nanosecond integers. Environment variables still win
// over file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}
	clean := filepath.Clean(path)
	f, err := os.Open(clean) // #nosec G304 - path validated above
	if err != nil {
		return nil, fmt.Errorf("open config file %s: %w", path, err)
	}
	defer f.Close()

	v := viper.New()
	v.SetConfigType(strings.TrimPrefix(strings.ToLower(filepath.Ext(clean)), "."))
	if err := v.ReadConfig(io.LimitReader(f, 1<<20)); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg := DefaultConfig()
	err = v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
		dc.ErrorUnused = true
	})
	if err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return finish(cfg)
}

// finish applies the environment overlay and validates.
func finish(cfg *Config) (*Config, error) {
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var configExts = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// validateConfigPath accepts only existing regular .json, .yaml or .yml files.
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}
	clean := filepath.Clean(path)
	if !configExts[strings.ToLower(filepath.Ext(clean))] {
		return errors.New("config file must have a .json, .yaml or .yml extension")
	}
	fi, err := os.Stat(clean)
	if err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("config file %s is not a regular file", clean)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/learnkit.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Progress: ProgressConfig{
			EnrollmentRetries:          3,
			EnrollmentBaseDelay:        100 * time.Millisecond,
			ReadRetries:                2,
			ReadBaseDelay:              50 * time.Millisecond,
			AutoBadgeCheck:             true,
			LeaderboardRebuildInterval: time.Minute,
			AsyncEvents:                true,
			EventQueueSize:             1024,
		},
		Analytics: AnalyticsConfig{
			Enabled: true,
			Path:    "/analytics",
		},
		Webhooks: WebhookConfig{
			Timeout: 2 * time.Second,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"logging", &c.Logging},
		{"progress", &c.Progress},
		{"analytics", &c.Analytics},
		{"webhook", &c.Webhooks},
		{"security", c.Security},
	}
	for _, sec := range sections {
		if err := sec.v.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", sec.name, err))
		}
	}
	return joinErrs(errs)
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	// Create a copy for redaction
	cfg := *c

	// Redact sensitive information
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Webhooks.Secret != "" {
		cfg.Webhooks.Secret = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
