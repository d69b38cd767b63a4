package engine

import (
	"context"
	"time"

	"learnkit/core"
)

// UserStore persists the per-learner aggregate.
type UserStore interface {
	// EnsureUser returns the user, creating a level 1 aggregate when missing.
	EnsureUser(ctx context.Context, user core.UserID) (core.User, error)
	GetUser(ctx context.Context, user core.UserID) (core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	// AddXP atomically adds delta to total XP and returns the new total.
	// Stores without an atomic primitive return core.ErrAtomicUnavailable.
	AddXP(ctx context.Context, user core.UserID, delta int64) (int64, error)
	// SetXP overwrites total XP; only used by the read-modify-write fallback.
	SetXP(ctx context.Context, user core.UserID, total int64) error
	SetLevel(ctx context.Context, user core.UserID, level int64) error
	IncrementCounter(ctx context.Context, user core.UserID, c core.Counter, delta int64) (int64, error)
	SetStreak(ctx context.Context, user core.UserID, s core.Streak) error
}

// CatalogStore reads immutable reference data.
type CatalogStore interface {
	GetCourse(ctx context.Context, course core.CourseID) (core.Course, error)
	GetLesson(ctx context.Context, lesson core.LessonID) (core.Lesson, error)
}

// CompletionStore holds completion facts. InsertCompletion must enforce
// uniqueness on (user, lesson) and report violations as core.ErrAlreadyExists.
type CompletionStore interface {
	GetCompletion(ctx context.Context, user core.UserID, lesson core.LessonID) (core.Completion, error)
	InsertCompletion(ctx context.Context, c core.Completion) error
	CountPerfectQuizzes(ctx context.Context, user core.UserID) (int64, error)
}

// ProgressStore holds (user, course) rollups.
type ProgressStore interface {
	GetProgress(ctx context.Context, user core.UserID, course core.CourseID) (core.CourseProgress, error)
	// CreateProgress reports an existing record as core.ErrAlreadyExists.
	CreateProgress(ctx context.Context, p core.CourseProgress) error
	// AdvanceProgress applies core.ApplyLessonCompletion to the stored record
	// without losing concurrent updates and returns the before/after pair.
	AdvanceProgress(ctx context.Context, user core.UserID, course core.CourseID, lesson core.LessonID, totalLessons int, at time.Time) (core.ProgressChange, error)
}

// AchievementStore holds badge definitions and the per-user award facts.
// InsertUserAchievement must enforce uniqueness on (user, achievement).
type AchievementStore interface {
	ListAchievements(ctx context.Context, activeOnly bool) ([]core.Achievement, error)
	GetUserAchievement(ctx context.Context, user core.UserID, id core.AchievementID) (core.UserAchievement, error)
	InsertUserAchievement(ctx context.Context, ua core.UserAchievement) error
	IncrementEarnedCount(ctx context.Context, id core.AchievementID) error
	// UserAchievements lists a user's awards oldest first, empty when none.
	UserAchievements(ctx context.Context, user core.UserID) ([]core.UserAchievement, error)
}

// LedgerStore records XP awards and answers rank queries over them.
type LedgerStore interface {
	AppendXPEvent(ctx context.Context, ev core.XPEvent) error
	// Standing ranks the user by XP earned at or after since; a zero since
	// means all-time totals. Only users with a positive score are counted.
	Standing(ctx context.Context, user core.UserID, since time.Time) (core.Standing, error)
}

// Storage is everything the engine needs from a backend.
type Storage interface {
	UserStore
	CatalogStore
	CompletionStore
	ProgressStore
	AchievementStore
	LedgerStore
}
