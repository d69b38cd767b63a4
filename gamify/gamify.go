package gamify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mem "learnkit/adapters/memory"
	"learnkit/analytics"
	"learnkit/engine"
	"learnkit/integrations/webhook"
	"learnkit/leaderboard"
	"learnkit/realtime"
)

// Option configures the Kit builder.
type Option func(*config)

type config struct {
	storage   engine.Storage
	mode      engine.DispatchMode
	queueSize int
	hub       *realtime.Hub
	webhook   *webhook.Sink
	hooks     []analytics.Hook
	cache     *leaderboard.Cache
	rebuild   time.Duration
	logger    *slog.Logger
	svcOpts   []engine.ServiceOption
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithQueueSize bounds the async event queue.
func WithQueueSize(n int) Option { return func(c *config) { c.queueSize = n } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithWebhook forwards engine events to an outbound webhook sink.
func WithWebhook(s *webhook.Sink) Option { return func(c *config) { c.webhook = s } }

// WithAnalytics attaches analytics hooks to the event stream.
func WithAnalytics(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

// WithLeaderboardCache serves ranks from an in-process cache, rebuilt from
// storage every interval once Start is called.
func WithLeaderboardCache(cache *leaderboard.Cache, interval time.Duration) Option {
	return func(c *config) { c.cache, c.rebuild = cache, interval }
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithServiceOptions passes options through to the progress service.
func WithServiceOptions(opts ...engine.ServiceOption) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, opts...) }
}

// Kit is a fully wired progress service and its event consumers.
type Kit struct {
	Service *engine.ProgressService
	Bus     *engine.EventBus
	Storage engine.Storage
	Hub     *realtime.Hub
	Cache   *leaderboard.Cache

	logger  *slog.Logger
	rebuild time.Duration
	detach  []func()

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a configured Kit. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async
//   - logger: slog.Default()
func New(opts ...Option) *Kit {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	busOpts := []engine.BusOption{engine.WithBusLogger(cfg.logger)}
	if cfg.queueSize > 0 {
		busOpts = append(busOpts, engine.WithQueueSize(cfg.queueSize))
	}
	bus := engine.NewEventBus(cfg.mode, busOpts...)

	svcOpts := []engine.ServiceOption{engine.WithLogger(cfg.logger)}
	if cfg.cache != nil {
		svcOpts = append(svcOpts, engine.WithRankReader(leaderboard.NewRankReader(cfg.storage, cfg.cache)))
	}
	svcOpts = append(svcOpts, cfg.svcOpts...)

	k := &Kit{
		Service: engine.NewProgressService(cfg.storage, bus, svcOpts...),
		Bus:     bus,
		Storage: cfg.storage,
		Hub:     cfg.hub,
		Cache:   cfg.cache,
		logger:  cfg.logger,
		rebuild: cfg.rebuild,
	}
	if cfg.hub != nil {
		k.detach = append(k.detach, cfg.hub.Attach(bus))
	}
	if cfg.webhook != nil {
		k.detach = append(k.detach, cfg.webhook.Attach(bus))
	}
	if len(cfg.hooks) > 0 {
		k.detach = append(k.detach, analytics.NewBridge(cfg.hooks...).Attach(bus))
	}
	if cfg.cache != nil {
		k.detach = append(k.detach, bus.SubscribeAll(cfg.cache.Observe))
	}
	return k
}

// Start performs the first leaderboard rebuild and keeps rebuilding in the
// background until ctx is done or Close is called. It is a no-op without a
// leaderboard cache.
func (k *Kit) Start(ctx context.Context) error {
	if k.Cache == nil {
		return nil
	}
	if _, err := k.Cache.Rebuild(ctx, k.Storage); err != nil {
		return err
	}
	if k.rebuild <= 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return nil
	}
	ctx, k.cancel = context.WithCancel(ctx)
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.Cache.RunRebuilds(ctx, k.Storage, k.rebuild, k.logger)
	}()
	return nil
}

// Close stops background rebuilds, detaches consumers and drains the bus.
func (k *Kit) Close() {
	k.mu.Lock()
	if k.cancel != nil {
		k.cancel()
	}
	k.mu.Unlock()
	k.wg.Wait()
	k.Service.Close()
	for _, d := range k.detach {
		d()
	}
	k.detach = nil
}
