package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"learnkit/core"
)

// AwardedBadge describes a badge granted by one evaluation pass.
type AwardedBadge struct {
	BadgeID   core.AchievementID `json:"badge_id"`
	BadgeName string             `json:"badge_name"`
	XPEarned  int64              `json:"xp_earned"`
	Rarity    core.Rarity        `json:"rarity,omitempty"`
	EarnedAt  time.Time          `json:"earned_at"`
}

type badgeStore interface {
	UserStore
	CompletionStore
	AchievementStore
	LedgerStore
}

// BadgeEvaluator awards every active badge whose criterion a user satisfies.
// Safe to call redundantly; the user-achievement record guards re-awards.
type BadgeEvaluator struct {
	store   badgeStore
	awarder *Awarder
	bus     *EventBus
	logger  *slog.Logger
	reads   Backoff
	now     func() time.Time
}

func NewBadgeEvaluator(store badgeStore, awarder *Awarder, bus *EventBus, logger *slog.Logger) *BadgeEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgeEvaluator{store: store, awarder: awarder, bus: bus, logger: logger, reads: DefaultReadBackoff,
		now: func() time.Time { return time.Now().UTC() }}
}

// Snapshot loads the stats criteria are evaluated against. It returns
// core.ErrNotFound for users without an aggregate.
func (b *BadgeEvaluator) Snapshot(ctx context.Context, user core.UserID) (core.Stats, error) {
	var (
		u       core.User
		perfect int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		u, err = RetryTransient(gctx, b.reads, func(ctx context.Context) (core.User, error) { return b.store.GetUser(ctx, user) })
		return err
	})
	g.Go(func() error {
		var err error
		perfect, err = RetryTransient(gctx, b.reads, func(ctx context.Context) (int64, error) { return b.store.CountPerfectQuizzes(ctx, user) })
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Stats{}, fmt.Errorf("load stats for %s: %w", user, err)
	}
	return core.Stats{
		LessonsCompleted: u.LessonsCompleted,
		CoursesCompleted: u.CoursesCompleted,
		PerfectScores:    perfect,
		CurrentStreak:    u.CurrentStreak,
		LongestStreak:    u.LongestStreak,
		TotalXP:          u.TotalXP,
		Level:            core.LevelFromXP(u.TotalXP),
	}, nil
}

// CheckAndAwardBadges evaluates all active badges for user and returns the
// newly awarded ones. Failures on a single badge are logged and skipped; an
// error is returned only when the stats or definitions cannot be loaded.
func (b *BadgeEvaluator) CheckAndAwardBadges(ctx context.Context, user core.UserID) ([]AwardedBadge, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	var (
		stats core.Stats
		defs  []core.Achievement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = b.Snapshot(gctx, user)
		return err
	})
	g.Go(func() error {
		var err error
		defs, err = RetryTransient(gctx, b.reads, func(ctx context.Context) ([]core.Achievement, error) {
			return b.store.ListAchievements(ctx, true)
		})
		if err != nil {
			return fmt.Errorf("list achievements: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return []AwardedBadge{}, nil
		}
		return nil, err
	}

	awarded := []AwardedBadge{}
	for _, def := range defs {
		if !def.Active {
			continue
		}
		ok, err := def.Criteria.Satisfied(stats)
		if err != nil {
			b.logger.Warn("skipping badge with unsupported criteria", "badge", def.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		got, granted, err := b.award(ctx, user, def)
		if err != nil {
			b.logger.Warn("badge award failed", "user", user, "badge", def.ID, "err", err)
			continue
		}
		if granted {
			awarded = append(awarded, got)
		}
	}
	return awarded, nil
}

// award grants def once. granted is false when the user already holds it.
func (b *BadgeEvaluator) award(ctx context.Context, user core.UserID, def core.Achievement) (AwardedBadge, bool, error) {
	_, err := b.store.GetUserAchievement(ctx, user, def.ID)
	switch {
	case err == nil:
		return AwardedBadge{}, false, nil
	case !errors.Is(err, core.ErrNotFound):
		return AwardedBadge{}, false, fmt.Errorf("lookup user achievement: %w", err)
	}

	now := b.now()
	ua := core.UserAchievement{ID: uuid.NewString(), UserID: user, AchievementID: def.ID, XPAwarded: def.XPReward, EarnedAt: now}
	if err := b.store.InsertUserAchievement(ctx, ua); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return AwardedBadge{}, false, nil
		}
		return AwardedBadge{}, false, fmt.Errorf("insert user achievement: %w", err)
	}

	// the badge is earned once the record exists; the rest is bookkeeping
	if def.XPReward > 0 {
		if _, err := b.awarder.Award(ctx, user, def.XPReward, core.XPSourceBadge, string(def.ID)); err != nil {
			b.logger.Error("badge recorded but xp award failed", "user", user, "badge", def.ID, "xp", def.XPReward, "err", err)
		}
	}
	if _, err := b.store.IncrementCounter(ctx, user, core.CounterBadgesEarned, 1); err != nil {
		b.logger.Error("badge recorded but badge counter failed", "user", user, "badge", def.ID, "err", err)
	}
	if err := b.store.IncrementEarnedCount(ctx, def.ID); err != nil {
		b.logger.Warn("badge earned count update failed", "badge", def.ID, "err", err)
	}
	if b.bus != nil {
		b.bus.Publish(ctx, core.NewBadgeAwarded(user, def.ID, def.XPReward))
	}
	return AwardedBadge{BadgeID: def.ID, BadgeName: def.Name, XPEarned: def.XPReward, Rarity: def.Rarity, EarnedAt: now}, true, nil
}
