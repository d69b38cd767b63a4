package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a learner.
type UserID string

// CourseID identifies a course in the catalog.
type CourseID string

// LessonID identifies a lesson in the catalog.
type LessonID string

// AchievementID identifies a badge definition.
type AchievementID string

// LessonType determines the XP policy applied to a lesson.
type LessonType string

const (
	LessonText        LessonType = "text"
	LessonInteractive LessonType = "interactive"
	LessonQuiz        LessonType = "quiz"
	LessonPractical   LessonType = "practical"
)

// Valid reports whether t is one of the known lesson types.
func (t LessonType) Valid() bool {
	switch t {
	case LessonText, LessonInteractive, LessonQuiz, LessonPractical:
		return true
	}
	return false
}

// Counter names a lifetime counter on the user aggregate.
type Counter string

const (
	CounterLessonsCompleted Counter = "lessons_completed"
	CounterCoursesCompleted Counter = "courses_completed"
	CounterBadgesEarned     Counter = "badges_earned"
)

// User is the per-learner aggregate. Level is a denormalized cache of
// LevelFromXP(TotalXP) and must be recomputed whenever consistency matters.
type User struct {
	ID               UserID    `json:"id" db:"id"`
	TotalXP          int64     `json:"total_xp" db:"total_xp"`
	Level            int64     `json:"level" db:"level"`
	LessonsCompleted int64     `json:"lessons_completed" db:"lessons_completed"`
	CoursesCompleted int64     `json:"courses_completed" db:"courses_completed"`
	BadgesEarned     int64     `json:"badges_earned" db:"badges_earned"`
	CurrentStreak    int64     `json:"current_streak" db:"current_streak"`
	LongestStreak    int64     `json:"longest_streak" db:"longest_streak"`
	LastActiveAt     time.Time `json:"last_active_at" db:"last_active_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	Updated          time.Time `json:"updated" db:"updated_at"`
}

// NewUser returns a fresh aggregate at level 1.
func NewUser(id UserID, now time.Time) User {
	return User{ID: id, Level: 1, CreatedAt: now, Updated: now}
}

// Counter returns the value of the named lifetime counter.
func (u User) Counter(c Counter) int64 {
	switch c {
	case CounterLessonsCompleted:
		return u.LessonsCompleted
	case CounterCoursesCompleted:
		return u.CoursesCompleted
	case CounterBadgesEarned:
		return u.BadgesEarned
	}
	return 0
}

// WithCounter returns a copy of u with the named counter set to v.
func (u User) WithCounter(c Counter, v int64) User {
	switch c {
	case CounterLessonsCompleted:
		u.LessonsCompleted = v
	case CounterCoursesCompleted:
		u.CoursesCompleted = v
	case CounterBadgesEarned:
		u.BadgesEarned = v
	}
	return u
}

// Course is immutable catalog data.
type Course struct {
	ID           CourseID `json:"id" db:"id"`
	Title        string   `json:"title" db:"title"`
	TotalLessons int      `json:"total_lessons" db:"total_lessons"`
}

// Lesson is immutable catalog data owned by exactly one course.
type Lesson struct {
	ID       LessonID   `json:"id" db:"id"`
	CourseID CourseID   `json:"course_id" db:"course_id"`
	Title    string     `json:"title" db:"title"`
	Type     LessonType `json:"type" db:"lesson_type"`
	Position int        `json:"position" db:"position"`
}

// Completion is the append-only fact that a user finished a lesson.
// At most one exists per (UserID, LessonID).
type Completion struct {
	ID               string    `json:"id" db:"id"`
	UserID           UserID    `json:"user_id" db:"user_id"`
	LessonID         LessonID  `json:"lesson_id" db:"lesson_id"`
	CourseID         CourseID  `json:"course_id" db:"course_id"`
	Score            *int      `json:"score,omitempty" db:"score"`
	TimeSpentSeconds int       `json:"time_spent_seconds" db:"time_spent_seconds"`
	XPAwarded        int64     `json:"xp_awarded" db:"xp_awarded"`
	CompletedAt      time.Time `json:"completed_at" db:"completed_at"`
}

// Perfect reports whether the completion is a 100% quiz score.
func (c Completion) Perfect() bool {
	return c.Score != nil && *c.Score == PerfectScore
}

// XPSource tags why XP was awarded.
type XPSource string

const (
	XPSourceLesson XPSource = "lesson"
	XPSourceCourse XPSource = "course_bonus"
	XPSourceBadge  XPSource = "badge"
)

// XPEvent is one entry of the XP ledger used for windowed rankings.
type XPEvent struct {
	ID       string    `json:"id" db:"id"`
	UserID   UserID    `json:"user_id" db:"user_id"`
	Amount   int64     `json:"amount" db:"amount"`
	Source   XPSource  `json:"source" db:"source"`
	SourceID string    `json:"source_id" db:"source_id"`
	At       time.Time `json:"at" db:"created_at"`
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", fmt.Errorf("empty user id: %w", ErrInvalidInput)
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateID ensures a non-empty catalog identifier made of alnum, dash and underscore.
func ValidateID(kind, id string) error {
	s := strings.TrimSpace(id)
	if s == "" {
		return fmt.Errorf("empty %s id: %w", kind, ErrInvalidInput)
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("invalid %s id %q: %w", kind, s, ErrInvalidInput)
	}
	return nil
}
