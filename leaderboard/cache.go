package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"learnkit/core"
)

// UserLister is the source the cache is rebuilt from.
type UserLister interface {
	ListUsers(ctx context.Context) ([]core.User, error)
}

// Cache is the precomputed all-time ranking. Rebuild replaces it wholesale;
// Observe keeps it current between rebuilds from xp_awarded events.
type Cache struct {
	board atomic.Pointer[SkipList]
	ready atomic.Bool
	built atomic.Int64
}

func NewCache() *Cache {
	c := &Cache{}
	c.board.Store(NewSkipList())
	return c
}

// Board returns the current snapshot.
func (c *Cache) Board() *SkipList { return c.board.Load() }

// Ready reports whether at least one rebuild has completed.
func (c *Cache) Ready() bool { return c.ready.Load() }

// BuiltAt returns when the last rebuild finished.
func (c *Cache) BuiltAt() time.Time {
	ns := c.built.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Observe is an event handler raising the user's score to the new total.
func (c *Cache) Observe(_ context.Context, ev core.Event) {
	if ev.Type != core.EventXPAwarded || ev.Total <= 0 {
		return
	}
	c.Board().Raise(ev.UserID, ev.Total)
}

// Rebuild reloads all-time totals from src and swaps them in.
func (c *Cache) Rebuild(ctx context.Context, src UserLister) (int, error) {
	users, err := src.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: %w", err)
	}
	next := NewSkipList()
	for _, u := range users {
		next.Update(u.ID, u.TotalXP)
	}
	c.board.Store(next)
	c.built.Store(time.Now().UnixNano())
	c.ready.Store(true)
	return next.Len(), nil
}

// RunRebuilds rebuilds immediately and then every interval until ctx is done.
func (c *Cache) RunRebuilds(ctx context.Context, src UserLister, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	rebuild := func() {
		n, err := c.Rebuild(ctx, src)
		if err != nil {
			logger.Error("leaderboard rebuild failed", "err", err)
			return
		}
		logger.Debug("leaderboard rebuilt", "users", n)
	}
	rebuild()
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rebuild()
		}
	}
}
