package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseCriterion(t *testing.T) {
	cases := []struct {
		raw  string
		kind CriterionKind
		thr  int64
	}{
		{`{"type":"lessons_completed","count":10}`, CriterionLessonsCompleted, 10},
		{`{"type":"courses_completed","threshold":2}`, CriterionCoursesCompleted, 2},
		{`{"type":"perfect_scores","count":5}`, CriterionPerfectScores, 5},
		{`{"type":"streak_days","days":7}`, CriterionStreakDays, 7},
		{`{"type":"total_xp","xp":1000}`, CriterionTotalXP, 1000},
		{`{"type":"level_reached","level":5}`, CriterionLevelReached, 5},
		{`{"type":"first_lesson"}`, CriterionFirstLesson, 1},
		{`{"type":"FIRST_COURSE"}`, CriterionFirstCourse, 1},
		{`{"type":"nft_minted","count":1}`, CriterionUnknown, 0},
		{`{}`, CriterionUnknown, 0},
	}
	for _, c := range cases {
		got, err := ParseCriterion([]byte(c.raw))
		if err != nil {
			t.Fatalf("%s: %v", c.raw, err)
		}
		if got.Kind != c.kind || got.Threshold != c.thr {
			t.Fatalf("%s: got %s/%d", c.raw, got.Kind, got.Threshold)
		}
	}
}

func TestParseCriterionErrors(t *testing.T) {
	for _, raw := range []string{`not json`, `{"type":"total_xp"}`, `{"type":"total_xp","xp":"lots"}`, `{"type":5}`} {
		if _, err := ParseCriterion([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestCriterionSatisfied(t *testing.T) {
	stats := Stats{LessonsCompleted: 1, CoursesCompleted: 0, PerfectScores: 2, CurrentStreak: 1, LongestStreak: 7, TotalXP: 500, Level: 2}
	cases := []struct {
		c    Criterion
		want bool
	}{
		{Criterion{Kind: CriterionFirstLesson, Threshold: 1}, true},
		{Criterion{Kind: CriterionFirstCourse, Threshold: 1}, false},
		{Criterion{Kind: CriterionLessonsCompleted, Threshold: 2}, false},
		{Criterion{Kind: CriterionPerfectScores, Threshold: 2}, true},
		{Criterion{Kind: CriterionStreakDays, Threshold: 7}, true},
		{Criterion{Kind: CriterionStreakDays, Threshold: 8}, false},
		{Criterion{Kind: CriterionTotalXP, Threshold: 500}, true},
		{Criterion{Kind: CriterionLevelReached, Threshold: 3}, false},
	}
	for _, c := range cases {
		got, err := c.c.Satisfied(stats)
		if err != nil || got != c.want {
			t.Fatalf("%s>=%d: got %v %v", c.c.Kind, c.c.Threshold, got, err)
		}
	}
	if ok, _ := (Criterion{Kind: CriterionFirstLesson}).Satisfied(Stats{}); ok {
		t.Fatal("no lessons should not satisfy first_lesson")
	}
	_, err := Criterion{Kind: CriterionUnknown, Raw: json.RawMessage(`{"type":"x"}`)}.Satisfied(stats)
	if !errors.Is(err, ErrUnknownCriterion) {
		t.Fatalf("expected ErrUnknownCriterion, got %v", err)
	}
}

func TestAchievementJSON(t *testing.T) {
	var a Achievement
	raw := `{"id":"first-steps","name":"First Steps","criteria":{"type":"first_lesson"},"xp_reward":25,"rarity":"common","active":true}`
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatal(err)
	}
	if a.Criteria.Kind != CriterionFirstLesson || a.XPReward != 25 {
		t.Fatalf("unexpected achievement %+v", a)
	}
	b, err := json.Marshal(a.Criteria)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"first_lesson","threshold":1}` {
		t.Fatalf("unexpected criteria json %s", b)
	}

	unknown := Criterion{Kind: CriterionUnknown, Raw: json.RawMessage(`{"type":"wallet_linked"}`)}
	b, _ = json.Marshal(unknown)
	if string(b) != `{"type":"wallet_linked"}` {
		t.Fatalf("unknown criteria should round trip, got %s", b)
	}
}

func TestLenientCriterion(t *testing.T) {
	c := LenientCriterion([]byte(`{"type":"total_xp"}`))
	if c.Kind != CriterionUnknown || string(c.Raw) != `{"type":"total_xp"}` {
		t.Fatalf("unexpected %+v", c)
	}
	if c := LenientCriterion([]byte(`{"type":"total_xp","xp":5}`)); c.Kind != CriterionTotalXP || c.Threshold != 5 {
		t.Fatalf("unexpected %+v", c)
	}
}
