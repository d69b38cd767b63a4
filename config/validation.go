package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"learnkit/adapters/sqlx"
	"learnkit/core"
)

// joinErrs folds field problems into one error, or nil.
func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

// oneOf reports a problem when v is not among allowed.
func oneOf(field, v string, allowed ...string) []string {
	if slices.Contains(allowed, v) {
		return nil
	}
	return []string{fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))}
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string
	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":        s.ReadTimeout,
		"write_timeout":       s.WriteTimeout,
		"idle_timeout":        s.IdleTimeout,
		"read_header_timeout": s.ReadHeaderTimeout,
		"shutdown_timeout":    s.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}
	slices.Sort(errs)
	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	errs := oneOf("adapter", s.Adapter, "memory", "redis", "sql", "file")

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		errs = append(errs, oneOf("sql config: driver", string(s.SQL.Driver), string(sqlx.DriverPostgres), string(sqlx.DriverMySQL))...)
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}
	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string
	errs = append(errs, oneOf("level", l.Level, "debug", "info", "warn", "error")...)
	errs = append(errs, oneOf("format", l.Format, "json", "text")...)
	errs = append(errs, oneOf("output", l.Output, "stdout", "stderr")...)
	return joinErrs(errs)
}

// Validate validates progress tuning.
func (p *ProgressConfig) Validate() error {
	var errs []string

	if p.EnrollmentRetries < 0 || p.ReadRetries < 0 {
		errs = append(errs, "retry counts cannot be negative")
	}

	if p.EnrollmentRetries > 0 && p.EnrollmentBaseDelay <= 0 {
		errs = append(errs, "enrollment_base_delay must be positive when retries are enabled")
	}

	if p.ReadRetries > 0 && p.ReadBaseDelay <= 0 {
		errs = append(errs, "read_base_delay must be positive when retries are enabled")
	}

	if p.LeaderboardRebuildInterval < 0 {
		errs = append(errs, "leaderboard_rebuild_interval cannot be negative")
	}

	if p.AsyncEvents && p.EventQueueSize <= 0 {
		errs = append(errs, "event_queue_size must be positive for async events")
	}

	return joinErrs(errs)
}

// Validate validates analytics configuration
func (a *AnalyticsConfig) Validate() error {
	if a.Enabled && !strings.HasPrefix(a.Path, "/") {
		return errors.New("path must start with / when analytics are enabled")
	}
	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	var errs []string

	for i, ep := range w.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute http(s) URL", i))
		}
	}

	for _, ev := range w.Events {
		if !slices.Contains(core.AllEventTypes, core.EventType(ev)) {
			errs = append(errs, fmt.Sprintf("unknown event type %q", ev))
		}
	}

	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}

	return joinErrs(errs)
}
