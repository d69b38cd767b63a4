package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventLessonCompleted EventType = "lesson_completed"
	EventXPAwarded       EventType = "xp_awarded"
	EventLevelUp         EventType = "level_up"
	EventCourseCompleted EventType = "course_completed"
	EventBadgeAwarded    EventType = "badge_awarded"
)

// AllEventTypes lists every event the engine publishes.
var AllEventTypes = []EventType{
	EventLessonCompleted,
	EventXPAwarded,
	EventLevelUp,
	EventCourseCompleted,
	EventBadgeAwarded,
}

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	CourseID CourseID       `json:"course_id,omitempty"`
	LessonID LessonID       `json:"lesson_id,omitempty"`
	Badge    AchievementID  `json:"badge,omitempty"`
	Source   XPSource       `json:"source,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Total    int64          `json:"total,omitempty"`
	Level    int64          `json:"level,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewLessonCompleted(user UserID, course CourseID, lesson LessonID, xp int64) Event {
	return Event{Type: EventLessonCompleted, Time: time.Now().UTC(), UserID: user, CourseID: course, LessonID: lesson, Delta: xp}
}

func NewXPAwarded(user UserID, source XPSource, delta int64, total int64) Event {
	return Event{Type: EventXPAwarded, Time: time.Now().UTC(), UserID: user, Source: source, Delta: delta, Total: total}
}

func NewLevelUp(user UserID, level int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Level: level}
}

func NewCourseCompleted(user UserID, course CourseID, bonus int64) Event {
	return Event{Type: EventCourseCompleted, Time: time.Now().UTC(), UserID: user, CourseID: course, Delta: bonus}
}

func NewBadgeAwarded(user UserID, badge AchievementID, xp int64) Event {
	return Event{Type: EventBadgeAwarded, Time: time.Now().UTC(), UserID: user, Badge: badge, Delta: xp}
}
