package sdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"learnkit/adapters/memory"
	"learnkit/api/httpapi"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/realtime"
)

func intp(v int) *int { return &v }

// newTestServer serves the real API over an in-memory store with a
// two-lesson course.
func newTestServer(t *testing.T, opts httpapi.Options, badges ...core.Achievement) *httptest.Server {
	t.Helper()
	store := memory.New()
	if err := store.PutCourse(core.Course{ID: "go-101", Title: "Go basics", TotalLessons: 2},
		core.Lesson{ID: "intro", Type: core.LessonText, Position: 1},
		core.Lesson{ID: "quiz", Type: core.LessonQuiz, Position: 2},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, b := range badges {
		if err := store.PutAchievement(b); err != nil {
			t.Fatalf("seed badge: %v", err)
		}
	}
	bus := engine.NewEventBus(engine.DispatchSync)
	svc := engine.NewProgressService(store, bus,
		engine.WithEnrollmentBackoff(engine.Backoff{Retries: 1, Base: time.Millisecond}))
	hub := realtime.NewHub()
	hub.Attach(bus)
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, opts))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_EnrollCompleteAndRead(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{PathPrefix: "/api", APIKeys: []string{"k1"}})
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	p, err := client.Enroll(ctx, "alice", "go-101")
	if err != nil || p.Percentage != 0 {
		t.Fatalf("enroll: %+v err=%v", p, err)
	}

	res, err := client.CompleteLesson(ctx, "alice", "intro", CompleteLessonInput{CourseID: "go-101"})
	if err != nil || !res.Success || res.XPEarned != 10 {
		t.Fatalf("complete intro: %+v err=%v", res, err)
	}

	res, err = client.CompleteLesson(ctx, "alice", "quiz", CompleteLessonInput{CourseID: "go-101", Score: intp(40)})
	if err != nil {
		t.Fatalf("failed quiz should not be an error: %v", err)
	}
	if res.Success || res.Reason != string(core.ReasonQuizNotPassed) {
		t.Fatalf("expected quiz rejection, got %+v", res)
	}

	res, err = client.CompleteLesson(ctx, "alice", "quiz", CompleteLessonInput{CourseID: "go-101", Score: intp(100)})
	if err != nil || !res.Success || !res.CourseComplete {
		t.Fatalf("complete quiz: %+v err=%v", res, err)
	}

	u, err := client.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if want := int64(10 + 30 + 100); u.User.TotalXP != want {
		t.Fatalf("total xp = %d, want %d", u.User.TotalXP, want)
	}

	cp, err := client.GetCourseProgress(ctx, "alice", "go-101")
	if err != nil || cp.Percentage != 100 {
		t.Fatalf("course progress: %+v err=%v", cp, err)
	}

	rank, err := client.GetRank(ctx, "alice", core.TimeframeWeekly)
	if err != nil || rank.Rank != 1 {
		t.Fatalf("rank: %+v err=%v", rank, err)
	}

	top, err := client.Leaderboard(ctx, 5)
	if err != nil || len(top) != 1 || top[0].UserID != "alice" {
		t.Fatalf("leaderboard: %+v err=%v", top, err)
	}

	badges, err := client.CheckBadges(ctx, "alice")
	if err != nil || len(badges) != 0 {
		t.Fatalf("badges: %+v err=%v", badges, err)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_Badges(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{}, core.Achievement{
		ID: "first-steps", Name: "First Steps", Active: true, XPReward: 25, Rarity: core.RarityCommon,
		Criteria: core.Criterion{Kind: core.CriterionFirstLesson, Threshold: 1},
	})
	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	if _, err := client.Enroll(ctx, "alice", "go-101"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	res, err := client.CompleteLesson(ctx, "alice", "intro", CompleteLessonInput{CourseID: "go-101"})
	if err != nil || len(res.Badges) != 1 {
		t.Fatalf("complete: %+v err=%v", res, err)
	}

	held, err := client.Badges(ctx, "alice")
	if err != nil || len(held) != 1 || held[0].BadgeID != "first-steps" || held[0].Rarity != "common" {
		t.Fatalf("badges: %+v err=%v", held, err)
	}
	if _, err := client.Badges(ctx, "nobody"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.Badges(ctx, " "); err != ErrEmptyUserID {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	ctx := context.Background()

	anon, _ := NewClient(srv.URL)
	if _, err := anon.GetUser(ctx, "alice"); err == nil {
		t.Fatal("expected unauthorized error")
	}

	client, _ := NewClient(srv.URL, WithAuthToken("k1"))
	if _, err := client.GetUser(ctx, "nobody"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.Enroll(ctx, "", "go-101"); err != ErrEmptyUserID {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
	res, err := client.CompleteLesson(ctx, "bob", "intro", CompleteLessonInput{CourseID: "go-101"})
	if err != nil || res.Reason != string(core.ReasonNotEnrolled) {
		t.Fatalf("expected not_enrolled rejection, got %+v err=%v", res, err)
	}
}

func TestClient_CompleteLessonServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"reason":"store_failure","error":"could not record completion, please retry"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	res, err := client.CompleteLesson(context.Background(), "alice", "intro", CompleteLessonInput{CourseID: "go-101"})
	if err == nil {
		t.Fatal("expected error on 503")
	}
	if res.Reason != "store_failure" {
		t.Fatalf("expected reason to be decoded, got %+v", res)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, SubscribeOptions{UserID: "alice", Types: []core.EventType{core.EventLessonCompleted}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// the hub registers the socket asynchronously, so keep completing until
	// an event arrives
	if _, err := client.Enroll(ctx, "alice", "go-101"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	go func() {
		_, _ = client.CompleteLesson(ctx, "bob", "intro", CompleteLessonInput{CourseID: "go-101"})
		for _, lesson := range []string{"intro", "quiz"} {
			time.Sleep(100 * time.Millisecond)
			_, _ = client.CompleteLesson(ctx, "alice", lesson, CompleteLessonInput{CourseID: "go-101", Score: intp(90)})
		}
	}()

	select {
	case evt := <-events:
		if evt.Type != core.EventLessonCompleted || evt.UserID != "alice" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api": "ws://localhost:8080/api/ws",
		"https://example.com":       "wss://example.com/ws",
	}
	for in, want := range cases {
		if got := deriveWSURL(in); got != want {
			t.Fatalf("deriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
