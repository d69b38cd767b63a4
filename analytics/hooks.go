package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"learnkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(ctx context.Context, e core.Event)
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(_ context.Context, e core.Event) {
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// bucket holds the counters kept per day, ISO week and month.
type bucket struct {
	active           map[core.UserID]struct{}
	xp               int64
	xpBySource       map[core.XPSource]int64
	lessonsCompleted int64
	coursesCompleted int64
	badgesAwarded    int64
	badgesByID       map[core.AchievementID]int64
	levelUps         int64
}

func newBucket() *bucket {
	return &bucket{
		active:     map[core.UserID]struct{}{},
		xpBySource: map[core.XPSource]int64{},
		badgesByID: map[core.AchievementID]int64{},
	}
}

// LearningMetrics aggregates learning KPIs from engine events.
type LearningMetrics struct {
	mu sync.RWMutex

	periods map[Period]map[string]*bucket

	uniqueBadgeHolders map[core.AchievementID]map[core.UserID]struct{}
	courseCompletions  map[core.CourseID]int64
	// highest level seen per user
	userLevels map[core.UserID]int64
}

func NewLearningMetrics() *LearningMetrics {
	return &LearningMetrics{
		periods: map[Period]map[string]*bucket{
			PeriodDaily:   {},
			PeriodWeekly:  {},
			PeriodMonthly: {},
		},
		uniqueBadgeHolders: map[core.AchievementID]map[core.UserID]struct{}{},
		userLevels:         map[core.UserID]int64{},
		courseCompletions:  map[core.CourseID]int64{},
	}
}

func (m *LearningMetrics) OnEvent(_ context.Context, e core.Event) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for p, key := range map[Period]string{PeriodDaily: dayKey(at), PeriodWeekly: weekKey(at), PeriodMonthly: monthKey(at)} {
		b := m.periods[p][key]
		if b == nil {
			b = newBucket()
			m.periods[p][key] = b
		}
		b.apply(e)
	}

	switch e.Type {
	case core.EventBadgeAwarded:
		if m.uniqueBadgeHolders[e.Badge] == nil {
			m.uniqueBadgeHolders[e.Badge] = map[core.UserID]struct{}{}
		}
		m.uniqueBadgeHolders[e.Badge][e.UserID] = struct{}{}
	case core.EventLevelUp:
		m.userLevels[e.UserID] = max(m.userLevels[e.UserID], e.Level)
	case core.EventCourseCompleted:
		m.courseCompletions[e.CourseID]++
	}
}

func (b *bucket) apply(e core.Event) {
	b.active[e.UserID] = struct{}{}
	switch e.Type {
	case core.EventXPAwarded:
		if e.Delta > 0 {
			b.xp += e.Delta
			b.xpBySource[e.Source] += e.Delta
		}
	case core.EventLessonCompleted:
		b.lessonsCompleted++
	case core.EventCourseCompleted:
		b.coursesCompleted++
	case core.EventBadgeAwarded:
		b.badgesAwarded++
		b.badgesByID[e.Badge]++
	case core.EventLevelUp:
		b.levelUps++
	}
}

// DailyActiveUsers returns distinct users with any event on day (YYYY-MM-DD).
func (m *LearningMetrics) DailyActiveUsers(day string) int { return m.active(PeriodDaily, day) }

// WeeklyActiveUsers takes an ISO week key such as 2024-W18.
func (m *LearningMetrics) WeeklyActiveUsers(week string) int { return m.active(PeriodWeekly, week) }

func (m *LearningMetrics) MonthlyActiveUsers(month string) int {
	return m.active(PeriodMonthly, month)
}

func (m *LearningMetrics) active(p Period, key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b := m.periods[p][key]; b != nil {
		return len(b.active)
	}
	return 0
}

func (m *LearningMetrics) XPAwardedOn(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b := m.periods[PeriodDaily][day]; b != nil {
		return b.xp
	}
	return 0
}

func (m *LearningMetrics) UniqueBadgeHolders(badge core.AchievementID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uniqueBadgeHolders[badge])
}

// LevelDistribution maps level to the number of users whose highest observed
// level-up reached it. Users that never leveled up are not counted.
func (m *LearningMetrics) LevelDistribution() map[int64]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[int64]int{}
	for _, lvl := range m.userLevels {
		out[lvl]++
	}
	return out
}

// CourseCount pairs a course with how often it was completed.
type CourseCount struct {
	CourseID    core.CourseID `json:"course_id"`
	Completions int64         `json:"completions"`
}

// TopCourses returns the most completed courses, ties broken by id.
func (m *LearningMetrics) TopCourses(limit int) []CourseCount {
	m.mu.RLock()
	out := make([]CourseCount, 0, len(m.courseCompletions))
	for id, n := range m.courseCompletions {
		out = append(out, CourseCount{id, n})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Completions != out[j].Completions {
			return out[i].Completions > out[j].Completions
		}
		return out[i].CourseID < out[j].CourseID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
