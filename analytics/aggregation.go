package analytics

import (
	"encoding/json"
	"io"
	"maps"
	"sort"
	"time"

	"learnkit/core"
)

// Period selects a report granularity.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Report is the aggregate for one period key.
type Report struct {
	Period           Period                       `json:"period"`
	Key              string                       `json:"key"` // e.g. "2024-01-01", "2024-W01", "2024-01"
	ActiveUsers      int                          `json:"active_users"`
	XPAwarded        int64                        `json:"xp_awarded"`
	XPBySource       map[core.XPSource]int64      `json:"xp_by_source"`
	LessonsCompleted int64                        `json:"lessons_completed"`
	CoursesCompleted int64                        `json:"courses_completed"`
	BadgesAwarded    int64                        `json:"badges_awarded"`
	BadgesByID       map[core.AchievementID]int64 `json:"badges_by_id"`
	LevelUps         int64                        `json:"level_ups"`
	GeneratedAt      time.Time                    `json:"generated_at"`
}

// Report returns the aggregate for key, or false if nothing was recorded.
func (m *LearningMetrics) Report(p Period, key string) (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.periods[p][key]
	if b == nil {
		return Report{}, false
	}
	return b.report(p, key), true
}

// Reports returns every aggregate for p ordered by key.
func (m *LearningMetrics) Reports(p Period) []Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Report, 0, len(m.periods[p]))
	for key, b := range m.periods[p] {
		out = append(out, b.report(p, key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (b *bucket) report(p Period, key string) Report {
	return Report{
		Period:           p,
		Key:              key,
		ActiveUsers:      len(b.active),
		XPAwarded:        b.xp,
		XPBySource:       maps.Clone(b.xpBySource),
		LessonsCompleted: b.lessonsCompleted,
		CoursesCompleted: b.coursesCompleted,
		BadgesAwarded:    b.badgesAwarded,
		BadgesByID:       maps.Clone(b.badgesByID),
		LevelUps:         b.levelUps,
		GeneratedAt:      time.Now().UTC(),
	}
}

// ExportJSON writes all reports for p as a JSON array.
func (m *LearningMetrics) ExportJSON(w io.Writer, p Period) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m.Reports(p))
}
