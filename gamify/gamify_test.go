package gamify

import (
	"context"
	"testing"
	"time"

	mem "learnkit/adapters/memory"
	"learnkit/analytics"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/leaderboard"
	"learnkit/realtime"
)

func seed(t *testing.T) *mem.Store {
	t.Helper()
	s := mem.New()
	if err := s.PutCourse(core.Course{ID: "go-101", Title: "Go basics", TotalLessons: 1},
		core.Lesson{ID: "intro", Type: core.LessonText, Position: 1},
	); err != nil {
		t.Fatalf("seed course: %v", err)
	}
	return s
}

func completeIntro(t *testing.T, k *Kit, user string) engine.CompletionResult {
	t.Helper()
	ctx := context.Background()
	if _, err := k.Service.Enroll(ctx, core.UserID(user), "go-101"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	res, err := k.Service.CompleteLesson(ctx, engine.CompleteLessonRequest{UserID: core.UserID(user), LessonID: "intro", CourseID: "go-101"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return res
}

func TestNewDefaultsAndOptions(t *testing.T) {
	hub := realtime.NewHub()
	k := New(
		WithRealtime(hub),
		WithStorage(seed(t)),
		WithDispatchMode(engine.DispatchSync),
	)
	defer k.Close()

	_, ch := hub.Subscribe(16, realtime.OfTypes(core.EventCourseCompleted))
	res := completeIntro(t, k, "Alice")
	if !res.Success || !res.CourseComplete || res.XPEarned != core.XPText+core.XPCourseComplete {
		t.Fatalf("unexpected result: %+v", res)
	}

	select {
	case ev := <-ch:
		if ev.UserID != "alice" || ev.CourseID != "go-101" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("realtime bridge did not deliver course_completed")
	}
}

func TestInMemoryFallback(t *testing.T) {
	k := New()
	defer k.Close()
	if _, err := k.Service.Enroll(context.Background(), "bob", "go-101"); err == nil {
		t.Fatal("expected unknown course on an empty store")
	}
	if _, ok := k.Storage.(*mem.Store); !ok {
		t.Fatalf("expected memory store fallback, got %T", k.Storage)
	}
}

func TestAnalyticsAndLeaderboardCache(t *testing.T) {
	metrics := analytics.NewLearningMetrics()
	cache := leaderboard.NewCache()
	k := New(
		WithStorage(seed(t)),
		WithDispatchMode(engine.DispatchSync),
		WithAnalytics(metrics),
		WithLeaderboardCache(cache, 0),
	)
	defer k.Close()
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !cache.Ready() {
		t.Fatal("cache should be ready after Start")
	}

	completeIntro(t, k, "carol")
	completeIntro(t, k, "dave")

	day := time.Now().UTC().Format("2006-01-02")
	if got := metrics.DailyActiveUsers(day); got != 2 {
		t.Fatalf("expected 2 active users, got %d", got)
	}
	top, err := k.Service.Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 cached entries, got %+v", top)
	}
	if e, ok := cache.Board().Get("carol"); !ok || e.Score != core.XPText+core.XPCourseComplete {
		t.Fatalf("cache not updated from events: %+v %v", e, ok)
	}
}

func TestStartRunsBackgroundRebuilds(t *testing.T) {
	cache := leaderboard.NewCache()
	k := New(WithStorage(seed(t)), WithLeaderboardCache(cache, 10*time.Millisecond))
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := cache.BuiltAt()
	deadline := time.Now().Add(2 * time.Second)
	for !cache.BuiltAt().After(first) {
		if time.Now().After(deadline) {
			t.Fatal("cache was never rebuilt in the background")
		}
		time.Sleep(5 * time.Millisecond)
	}
	k.Close()
}
