package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CriterionKind tags a badge criterion.
type CriterionKind string

const (
	CriterionLessonsCompleted CriterionKind = "lessons_completed"
	CriterionCoursesCompleted CriterionKind = "courses_completed"
	CriterionPerfectScores    CriterionKind = "perfect_scores"
	CriterionStreakDays       CriterionKind = "streak_days"
	CriterionTotalXP          CriterionKind = "total_xp"
	CriterionLevelReached     CriterionKind = "level_reached"
	CriterionFirstLesson      CriterionKind = "first_lesson"
	CriterionFirstCourse      CriterionKind = "first_course"
	// CriterionUnknown is kept for definitions whose type this build does not know.
	CriterionUnknown CriterionKind = "unknown"
)

// ErrUnknownCriterion is returned when evaluating an unknown criterion.
var ErrUnknownCriterion = errors.New("unknown criterion kind")

// Criterion is the typed form of a badge's declarative criteria payload.
// Raw keeps the original payload so unknown kinds round-trip untouched.
type Criterion struct {
	Kind      CriterionKind
	Threshold int64
	Raw       json.RawMessage
}

// thresholdKeys are the payload fields accepted as the criterion threshold, in priority order.
var thresholdKeys = []string{"threshold", "count", "value", "days", "xp", "level"}

// ParseCriterion decodes a loosely typed payload such as
// {"type":"lessons_completed","count":10}. Unrecognized types yield
// CriterionUnknown rather than an error; malformed JSON is an error.
func ParseCriterion(raw []byte) (Criterion, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Criterion{}, fmt.Errorf("decode criterion: %w", err)
	}
	c := Criterion{Raw: append(json.RawMessage(nil), raw...)}
	var typ string
	if v, ok := fields["type"]; ok {
		if err := json.Unmarshal(v, &typ); err != nil {
			return Criterion{}, fmt.Errorf("decode criterion type: %w", err)
		}
	}
	c.Kind = CriterionKind(strings.ToLower(strings.TrimSpace(typ)))
	switch c.Kind {
	case CriterionFirstLesson, CriterionFirstCourse:
		c.Threshold = 1
		return c, nil
	case CriterionLessonsCompleted, CriterionCoursesCompleted, CriterionPerfectScores,
		CriterionStreakDays, CriterionTotalXP, CriterionLevelReached:
	default:
		c.Kind = CriterionUnknown
		return c, nil
	}
	for _, k := range thresholdKeys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			return Criterion{}, fmt.Errorf("decode criterion %s: %w", k, err)
		}
		c.Threshold = int64(n)
		return c, nil
	}
	return Criterion{}, fmt.Errorf("criterion %s has no threshold", c.Kind)
}

// UnmarshalJSON lets a Criterion be embedded in JSON documents directly.
func (c *Criterion) UnmarshalJSON(b []byte) error {
	parsed, err := ParseCriterion(b)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalJSON writes the canonical {"type":..,"threshold":..} form; unknown
// kinds are written back as their original payload.
func (c Criterion) MarshalJSON() ([]byte, error) {
	if c.Kind == CriterionUnknown && len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.Marshal(struct {
		Type      CriterionKind `json:"type"`
		Threshold int64         `json:"threshold"`
	}{c.Kind, c.Threshold})
}

// Stats is the snapshot a criterion is evaluated against.
type Stats struct {
	LessonsCompleted int64 `json:"lessons_completed"`
	CoursesCompleted int64 `json:"courses_completed"`
	PerfectScores    int64 `json:"perfect_scores"`
	CurrentStreak    int64 `json:"current_streak"`
	LongestStreak    int64 `json:"longest_streak"`
	TotalXP          int64 `json:"total_xp"`
	Level            int64 `json:"level"`
}

// Satisfied evaluates the criterion against s.
func (c Criterion) Satisfied(s Stats) (bool, error) {
	switch c.Kind {
	case CriterionLessonsCompleted:
		return s.LessonsCompleted >= c.Threshold, nil
	case CriterionCoursesCompleted:
		return s.CoursesCompleted >= c.Threshold, nil
	case CriterionPerfectScores:
		return s.PerfectScores >= c.Threshold, nil
	case CriterionStreakDays:
		return s.CurrentStreak >= c.Threshold || s.LongestStreak >= c.Threshold, nil
	case CriterionTotalXP:
		return s.TotalXP >= c.Threshold, nil
	case CriterionLevelReached:
		return s.Level >= c.Threshold, nil
	case CriterionFirstLesson:
		return s.LessonsCompleted >= 1, nil
	case CriterionFirstCourse:
		return s.CoursesCompleted >= 1, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownCriterion, string(c.Raw))
}

// Rarity is the display tier of a badge.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Achievement is a badge definition.
type Achievement struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Criteria    Criterion     `json:"criteria"`
	XPReward    int64         `json:"xp_reward"`
	Rarity      Rarity        `json:"rarity"`
	Active      bool          `json:"active"`
	EarnedCount int64         `json:"earned_count"`
}

// UserAchievement marks that a user earned a badge. At most one exists per
// (UserID, AchievementID); its existence is the re-award guard.
type UserAchievement struct {
	ID            string        `json:"id" db:"id"`
	UserID        UserID        `json:"user_id" db:"user_id"`
	AchievementID AchievementID `json:"achievement_id" db:"achievement_id"`
	XPAwarded     int64         `json:"xp_awarded" db:"xp_awarded"`
	EarnedAt      time.Time     `json:"earned_at" db:"earned_at"`
}

// LenientCriterion parses raw and degrades malformed payloads to
// CriterionUnknown so one bad definition cannot break a whole listing.
func LenientCriterion(raw []byte) Criterion {
	c, err := ParseCriterion(raw)
	if err != nil {
		return Criterion{Kind: CriterionUnknown, Raw: append(json.RawMessage(nil), raw...)}
	}
	return c
}
