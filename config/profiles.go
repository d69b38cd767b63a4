package config

import (
	"fmt"
	"time"

	"learnkit/adapters/sqlx"
)

// LoadProfile returns the preset for a named deployment profile, with
// environment variables applied on top.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Storage.Adapter = "memory"
		cfg.Progress.EnrollmentBaseDelay = time.Millisecond
		cfg.Progress.ReadBaseDelay = time.Millisecond
		cfg.Progress.AsyncEvents = false
		cfg.Progress.LeaderboardRebuildInterval = 0
		cfg.Analytics.Enabled = false
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Server.CORSOrigin = ""
		cfg.Security.EnableRateLimit = true
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL = sqlx.DefaultConfig(sqlx.DriverPostgres)
		cfg.Storage.SQL.MaxOpenConns = 50
		cfg.Server.CORSOrigin = ""
		cfg.Logging.Level = "info"
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 600
		cfg.Security.RateLimit.BurstSize = 50
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}
