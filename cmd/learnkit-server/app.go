package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"learnkit/adapters/jsonfile"
	mem "learnkit/adapters/memory"
	redisAdapter "learnkit/adapters/redis"
	sqlxAdapter "learnkit/adapters/sqlx"
	"learnkit/analytics"
	"learnkit/api/httpapi"
	"learnkit/config"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/gamify"
	"learnkit/integrations/webhook"
	"learnkit/leaderboard"
	"learnkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Kit     *gamify.Kit
	Metrics *analytics.LearningMetrics
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case os.Getenv("LEARNKIT_CONFIG_FILE") != "":
		cfg, err = config.LoadFromFile(os.Getenv("LEARNKIT_CONFIG_FILE"))
	case os.Getenv("LEARNKIT_PROFILE") != "":
		cfg, err = config.LoadProfile(os.Getenv("LEARNKIT_PROFILE"))
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := config.LoadSecretsFromEnv(ctx, cfg, config.NewEnvironmentSecretStore()); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration after secrets: %w", err)
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	s, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Error("closing storage", "adapter", cfg.Storage.Adapter, "error", err)
			}
		}
	}
	return s, cleanup, nil
}

func provideMetrics(cfg *config.Config) *analytics.LearningMetrics {
	if !cfg.Analytics.Enabled {
		return nil
	}
	return analytics.NewLearningMetrics()
}

func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	if len(cfg.Webhooks.Endpoints) == 0 {
		return nil
	}
	opts := []webhook.Option{
		webhook.WithClient(&http.Client{Timeout: cfg.Webhooks.Timeout}),
		webhook.WithLogger(logger),
	}
	if cfg.Webhooks.Secret != "" {
		opts = append(opts, webhook.WithSecret(cfg.Webhooks.Secret))
	}
	if len(cfg.Webhooks.Events) > 0 {
		types := make([]core.EventType, len(cfg.Webhooks.Events))
		for i, e := range cfg.Webhooks.Events {
			types[i] = core.EventType(e)
		}
		opts = append(opts, webhook.WithEventTypes(types...))
	}
	return webhook.New(cfg.Webhooks.Endpoints, opts...)
}

func provideKit(ctx context.Context, cfg *config.Config, logger *slog.Logger, storage engine.Storage,
	hub *realtime.Hub, metrics *analytics.LearningMetrics, sink *webhook.Sink) (*gamify.Kit, func(), error) {
	p := cfg.Progress
	mode := engine.DispatchSync
	if p.AsyncEvents {
		mode = engine.DispatchAsync
	}
	opts := []gamify.Option{
		gamify.WithStorage(storage),
		gamify.WithLogger(logger),
		gamify.WithRealtime(hub),
		gamify.WithDispatchMode(mode),
		gamify.WithQueueSize(p.EventQueueSize),
		gamify.WithServiceOptions(
			engine.WithAutoBadgeCheck(p.AutoBadgeCheck),
			engine.WithEnrollmentBackoff(engine.Backoff{Retries: p.EnrollmentRetries, Base: p.EnrollmentBaseDelay}),
			engine.WithReadBackoff(engine.Backoff{Retries: p.ReadRetries, Base: p.ReadBaseDelay}),
		),
	}
	if sink != nil {
		opts = append(opts, gamify.WithWebhook(sink))
	}
	if metrics != nil {
		opts = append(opts, gamify.WithAnalytics(metrics))
	}
	if p.LeaderboardRebuildInterval > 0 {
		opts = append(opts, gamify.WithLeaderboardCache(leaderboard.NewCache(), p.LeaderboardRebuildInterval))
	}

	kit := gamify.New(opts...)
	if err := kit.Start(ctx); err != nil {
		kit.Close()
		return nil, nil, fmt.Errorf("start progress service: %w", err)
	}
	return kit, kit.Close, nil
}

func provideHandler(kit *gamify.Kit, hub *realtime.Hub, metrics *analytics.LearningMetrics, cfg *config.Config, logger *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitIdle:    cfg.Security.RateLimit.CleanupInterval,
	}
	if metrics != nil {
		opts.Mounts = map[string]http.Handler{cfg.Analytics.Path: analytics.Handler(metrics)}
	}
	return httpapi.WithRequestLog(httpapi.NewMux(kit.Service, hub, opts), logger)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named by the configuration.
func setupStorage(_ context.Context, cfg *config.Config) (engine.Storage, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		return redisAdapter.New(cfg.Storage.Redis)
	case "sql":
		return sqlxAdapter.New(cfg.Storage.SQL)
	case "file":
		return jsonfile.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
