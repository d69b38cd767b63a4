package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"learnkit/core"
)

// XPAward is the outcome of one XP grant.
type XPAward struct {
	Total     int64 `json:"total"`
	Level     int64 `json:"level"`
	PrevLevel int64 `json:"prev_level"`
	// Fallback is set when the grant went through read-modify-write.
	Fallback bool `json:"fallback,omitempty"`
}

// LeveledUp reports whether the grant crossed at least one level threshold.
func (a XPAward) LeveledUp() bool { return a.Level > a.PrevLevel }

type awardStore interface {
	UserStore
	LedgerStore
}

// Awarder grants XP. It prefers the store's atomic add and falls back to
// read-modify-write when the store reports core.ErrAtomicUnavailable.
// The fallback can lose updates under concurrent grants for the same user.
type Awarder struct {
	store  awardStore
	bus    *EventBus
	logger *slog.Logger
	reads  Backoff
	now    func() time.Time
}

func NewAwarder(store awardStore, bus *EventBus, logger *slog.Logger) *Awarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Awarder{store: store, bus: bus, logger: logger, reads: DefaultReadBackoff, now: func() time.Time { return time.Now().UTC() }}
}

// Award adds amount XP from source, recomputes the level cache, appends a
// ledger entry and publishes xp_awarded (plus level_up when crossed).
func (a *Awarder) Award(ctx context.Context, user core.UserID, amount int64, source core.XPSource, sourceID string) (XPAward, error) {
	if amount <= 0 {
		u, err := RetryTransient(ctx, a.reads, func(ctx context.Context) (core.User, error) { return a.store.GetUser(ctx, user) })
		if err != nil {
			return XPAward{}, fmt.Errorf("read user %s: %w", user, err)
		}
		lvl := core.LevelFromXP(u.TotalXP)
		return XPAward{Total: u.TotalXP, Level: lvl, PrevLevel: lvl}, nil
	}

	out := XPAward{}
	total, err := a.store.AddXP(ctx, user, amount)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrAtomicUnavailable):
		a.logger.Warn("atomic xp add unavailable, falling back to read-modify-write", "user", user, "amount", amount)
		total, err = a.readModifyWrite(ctx, user, amount)
		if err != nil {
			return XPAward{}, err
		}
		out.Fallback = true
	default:
		return XPAward{}, fmt.Errorf("add xp for %s: %w", user, err)
	}

	out.Total = total
	out.Level = core.LevelFromXP(total)
	out.PrevLevel = core.LevelFromXP(total - amount)
	if err := a.store.SetLevel(ctx, user, out.Level); err != nil {
		// level is a cache of total xp; readers recompute it
		a.logger.Warn("level cache write failed", "user", user, "level", out.Level, "err", err)
	}

	entry := core.XPEvent{ID: uuid.NewString(), UserID: user, Amount: amount, Source: source, SourceID: sourceID, At: a.now()}
	if err := a.store.AppendXPEvent(ctx, entry); err != nil {
		a.logger.Warn("xp ledger append failed", "user", user, "amount", amount, "source", source, "err", err)
	}

	if a.bus != nil {
		a.bus.Publish(ctx, core.NewXPAwarded(user, source, amount, total))
		if out.LeveledUp() {
			a.bus.Publish(ctx, core.NewLevelUp(user, out.Level))
		}
	}
	return out, nil
}

func (a *Awarder) readModifyWrite(ctx context.Context, user core.UserID, amount int64) (int64, error) {
	u, err := RetryTransient(ctx, a.reads, func(ctx context.Context) (core.User, error) { return a.store.GetUser(ctx, user) })
	if err != nil {
		return 0, fmt.Errorf("read user %s: %w", user, err)
	}
	next, err := core.AddSafe(u.TotalXP, amount)
	if err != nil {
		return 0, err
	}
	if err := a.store.SetXP(ctx, user, next); err != nil {
		return 0, fmt.Errorf("write xp for %s: %w", user, err)
	}
	return next, nil
}
