package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"learnkit/core"
	"learnkit/leaderboard"
)

// RankReader answers rank and leaderboard queries.
type RankReader interface {
	UserRank(ctx context.Context, user core.UserID, tf core.Timeframe) (core.UserRank, error)
	Top(ctx context.Context, n int) ([]leaderboard.Entry, error)
}

// UserProgress is a user's aggregate plus the derived level position.
type UserProgress struct {
	User  core.User          `json:"user"`
	Level core.LevelSnapshot `json:"level"`
}

// ServiceOption customizes a ProgressService.
type ServiceOption func(*ProgressService)

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *ProgressService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRankReader replaces the default ledger-backed rank reader.
func WithRankReader(r RankReader) ServiceOption { return func(s *ProgressService) { s.ranks = r } }

// WithAutoBadgeCheck toggles the badge pass after first-time completions.
func WithAutoBadgeCheck(on bool) ServiceOption { return func(s *ProgressService) { s.autoBadges = on } }

// WithEnrollmentBackoff sets the schedule used while waiting for a progress record.
func WithEnrollmentBackoff(b Backoff) ServiceOption {
	return func(s *ProgressService) { s.enrollment = b }
}

// WithReadBackoff sets the schedule for retrying network-class read failures.
func WithReadBackoff(b Backoff) ServiceOption { return func(s *ProgressService) { s.reads = b } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *ProgressService) {
		if now != nil {
			s.now = now
		}
	}
}

// ProgressService wires storage, event bus, recorder, badge evaluator and
// rank reader into one API.
type ProgressService struct {
	storage    Storage
	bus        *EventBus
	logger     *slog.Logger
	ranks      RankReader
	autoBadges bool
	enrollment Backoff
	reads      Backoff
	now        func() time.Time

	awarder  *Awarder
	recorder *Recorder
	badges   *BadgeEvaluator
}

func NewProgressService(storage Storage, bus *EventBus, opts ...ServiceOption) *ProgressService {
	if storage == nil || bus == nil {
		panic("NewProgressService requires non-nil storage and bus")
	}
	s := &ProgressService{
		storage:    storage,
		bus:        bus,
		logger:     slog.Default(),
		autoBadges: true,
		enrollment: DefaultEnrollmentBackoff,
		reads:      DefaultReadBackoff,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.ranks == nil {
		s.ranks = leaderboard.NewRankReader(storage, nil)
	}

	s.awarder = NewAwarder(storage, bus, s.logger)
	s.awarder.reads, s.awarder.now = s.reads, s.now

	s.recorder = NewRecorder(storage, s.awarder, bus, s.logger)
	s.recorder.enrollment, s.recorder.reads, s.recorder.now = s.enrollment, s.reads, s.now

	s.badges = NewBadgeEvaluator(storage, s.awarder, bus, s.logger)
	s.badges.reads, s.badges.now = s.reads, s.now
	return s
}

// Subscribe convenience method.
func (s *ProgressService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *ProgressService) Publish(ctx context.Context, ev core.Event) { s.bus.Publish(ctx, ev) }

// Enroll creates the user's progress record for course at 0%. Enrolling
// twice returns the existing record.
func (s *ProgressService) Enroll(ctx context.Context, user core.UserID, course core.CourseID) (core.CourseProgress, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.CourseProgress{}, err
	}
	if err := core.ValidateID("course", string(course)); err != nil {
		return core.CourseProgress{}, err
	}
	if _, err := s.storage.GetCourse(ctx, course); err != nil {
		return core.CourseProgress{}, fmt.Errorf("course %s: %w", course, err)
	}
	if _, err := s.storage.EnsureUser(ctx, user); err != nil {
		return core.CourseProgress{}, fmt.Errorf("ensure user: %w", err)
	}
	now := s.now()
	p := core.CourseProgress{UserID: user, CourseID: course, EnrolledAt: now, Updated: now}
	if err := s.storage.CreateProgress(ctx, p); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return s.storage.GetProgress(ctx, user, course)
		}
		return core.CourseProgress{}, fmt.Errorf("create progress: %w", err)
	}
	return p, nil
}

// CompleteLesson records a lesson completion and, for first-time
// completions, runs the badge pass.
func (s *ProgressService) CompleteLesson(ctx context.Context, req CompleteLessonRequest) (CompletionResult, error) {
	res, err := s.recorder.CompleteLesson(ctx, req)
	if err != nil || !res.Success || res.AlreadyCompleted || !s.autoBadges {
		return res, err
	}
	user, _ := core.NormalizeUserID(req.UserID)
	badges, berr := s.badges.CheckAndAwardBadges(ctx, user)
	if berr != nil {
		s.logger.Warn("badge pass after completion failed", "user", user, "err", berr)
		return res, nil
	}
	if len(badges) > 0 {
		res.Badges = badges
		if lvl, err := s.currentLevel(ctx, user); err == nil {
			res.NewLevel = lvl
		}
	}
	return res, nil
}

// CheckAndAwardBadges runs the badge pass on demand.
func (s *ProgressService) CheckAndAwardBadges(ctx context.Context, user core.UserID) ([]AwardedBadge, error) {
	return s.badges.CheckAndAwardBadges(ctx, user)
}

// UserBadges lists the badges user holds, oldest first, with names and
// rarity taken from the current definitions.
func (s *ProgressService) UserBadges(ctx context.Context, user core.UserID) ([]AwardedBadge, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	if _, err := RetryTransient(ctx, s.reads, func(ctx context.Context) (core.User, error) { return s.storage.GetUser(ctx, user) }); err != nil {
		return nil, err
	}
	held, err := RetryTransient(ctx, s.reads, func(ctx context.Context) ([]core.UserAchievement, error) {
		return s.storage.UserAchievements(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("badges of %s: %w", user, err)
	}
	defs, err := RetryTransient(ctx, s.reads, func(ctx context.Context) ([]core.Achievement, error) {
		return s.storage.ListAchievements(ctx, false)
	})
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	byID := make(map[core.AchievementID]core.Achievement, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	out := make([]AwardedBadge, 0, len(held))
	for _, ua := range held {
		b := AwardedBadge{BadgeID: ua.AchievementID, XPEarned: ua.XPAwarded, EarnedAt: ua.EarnedAt}
		if d, ok := byID[ua.AchievementID]; ok {
			b.BadgeName, b.Rarity = d.Name, d.Rarity
		}
		out = append(out, b)
	}
	return out, nil
}

// GetUserRank returns the user's rank for tf; users without XP are unranked.
func (s *ProgressService) GetUserRank(ctx context.Context, user core.UserID, tf core.Timeframe) (core.UserRank, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserRank{}, err
	}
	tf, err = core.ParseTimeframe(string(tf))
	if err != nil {
		return core.UserRank{}, err
	}
	return s.ranks.UserRank(ctx, user, tf)
}

// Leaderboard lists the n highest all-time totals.
func (s *ProgressService) Leaderboard(ctx context.Context, n int) ([]leaderboard.Entry, error) {
	return s.ranks.Top(ctx, n)
}

// GetUserProgress returns the aggregate with its level recomputed from XP.
func (s *ProgressService) GetUserProgress(ctx context.Context, user core.UserID) (UserProgress, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return UserProgress{}, err
	}
	u, err := RetryTransient(ctx, s.reads, func(ctx context.Context) (core.User, error) { return s.storage.GetUser(ctx, user) })
	if err != nil {
		return UserProgress{}, err
	}
	snap := core.SnapshotLevel(u.TotalXP)
	u.Level = snap.Level
	return UserProgress{User: u, Level: snap}, nil
}

// GetCourseProgress returns the user's progress record for course.
func (s *ProgressService) GetCourseProgress(ctx context.Context, user core.UserID, course core.CourseID) (core.CourseProgress, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.CourseProgress{}, err
	}
	if err := core.ValidateID("course", string(course)); err != nil {
		return core.CourseProgress{}, err
	}
	return s.storage.GetProgress(ctx, user, course)
}

func (s *ProgressService) currentLevel(ctx context.Context, user core.UserID) (int64, error) {
	u, err := s.storage.GetUser(ctx, user)
	if err != nil {
		return 0, err
	}
	return core.LevelFromXP(u.TotalXP), nil
}

func (s *ProgressService) Close() { s.bus.Close() }
