package core

import (
	"errors"
	"math"
	"time"
)

// CourseProgress is the mutable (user, course) rollup.
type CourseProgress struct {
	UserID           UserID     `json:"user_id" db:"user_id"`
	CourseID         CourseID   `json:"course_id" db:"course_id"`
	LessonsCompleted int        `json:"lessons_completed" db:"lessons_completed"`
	Percentage       int        `json:"percentage" db:"percentage"`
	CurrentLessonID  LessonID   `json:"current_lesson_id,omitempty" db:"current_lesson_id"`
	EnrolledAt       time.Time  `json:"enrolled_at" db:"enrolled_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Updated          time.Time  `json:"updated" db:"updated_at"`
}

// Complete reports whether the course-completion transition already happened.
func (p CourseProgress) Complete() bool {
	return p.CompletedAt != nil || p.Percentage >= 100
}

// ProgressChange captures a progress record before and after one lesson completion.
type ProgressChange struct {
	Before CourseProgress `json:"before"`
	After  CourseProgress `json:"after"`
}

// JustCompleted reports the one-time transition to 100%.
func (c ProgressChange) JustCompleted() bool {
	return !c.Before.Complete() && c.After.Complete()
}

// ErrZeroLessons guards the percentage division.
var ErrZeroLessons = errors.New("course has no lessons")

// ProgressPercentage returns round(completed/total*100). It only reports 100
// once completed reaches total; rounding never promotes 99.5% to complete.
func ProgressPercentage(completed, total int) (int, error) {
	if total <= 0 {
		return 0, ErrZeroLessons
	}
	if completed >= total {
		return 100, nil
	}
	if completed <= 0 {
		return 0, nil
	}
	pct := int(math.Round(float64(completed) / float64(total) * 100))
	return min(pct, 99), nil
}

// ApplyLessonCompletion advances p by one completed lesson. When the course
// crosses 100% for the first time CompletedAt is stamped with at.
func ApplyLessonCompletion(p CourseProgress, lesson LessonID, totalLessons int, at time.Time) (CourseProgress, error) {
	next := p
	next.LessonsCompleted++
	pct, err := ProgressPercentage(next.LessonsCompleted, totalLessons)
	if err != nil {
		return p, err
	}
	next.Percentage = pct
	next.CurrentLessonID = lesson
	next.Updated = at
	if pct == 100 && p.CompletedAt == nil {
		stamp := at
		next.CompletedAt = &stamp
	}
	return next, nil
}

// Streak holds activity-streak state on the user aggregate.
type Streak struct {
	Current      int64     `json:"current"`
	Longest      int64     `json:"longest"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NextStreak applies one activity at time at. Days are UTC calendar days:
// same day keeps the streak, the following day extends it, a gap resets it to 1.
func NextStreak(s Streak, at time.Time) Streak {
	at = at.UTC()
	out := s
	switch {
	case s.LastActiveAt.IsZero() || s.Current == 0:
		out.Current = 1
	default:
		gap := dayNumber(at) - dayNumber(s.LastActiveAt.UTC())
		switch {
		case gap <= 0:
		case gap == 1:
			out.Current = s.Current + 1
		default:
			out.Current = 1
		}
	}
	out.Longest = max(out.Longest, out.Current)
	if at.After(s.LastActiveAt) {
		out.LastActiveAt = at
	}
	return out
}

func dayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Streak returns the streak fields of the aggregate.
func (u User) Streak() Streak {
	return Streak{Current: u.CurrentStreak, Longest: u.LongestStreak, LastActiveAt: u.LastActiveAt}
}
