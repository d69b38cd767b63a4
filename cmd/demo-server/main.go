package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	mem "learnkit/adapters/memory"
	"learnkit/analytics"
	"learnkit/api/httpapi"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/gamify"
	"learnkit/leaderboard"
	"learnkit/realtime"
)

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	store := mem.New()
	if err := seedCatalog(store); err != nil {
		logger.Error("seeding demo catalog failed", "error", err)
		os.Exit(1)
	}

	hub := realtime.NewHub()
	metrics := analytics.NewLearningMetrics()
	kit := gamify.New(
		gamify.WithStorage(store),
		gamify.WithLogger(logger),
		gamify.WithRealtime(hub),
		gamify.WithDispatchMode(engine.DispatchAsync),
		gamify.WithAnalytics(metrics, loggingHook{logger}),
		gamify.WithLeaderboardCache(leaderboard.NewCache(), 30*time.Second),
	)
	defer kit.Close()
	if err := kit.Start(context.Background()); err != nil {
		logger.Error("starting progress service failed", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewMux(kit.Service, hub, httpapi.Options{
		PathPrefix:      "/api",
		AllowCORSOrigin: "*",
		Mounts:          map[string]http.Handler{"/analytics": analytics.Handler(metrics)},
	})

	slog.Info("starting demo server on :8080", "courses", []string{"go-basics", "go-concurrency"})

	srv := &http.Server{Addr: ":8080", Handler: httpapi.WithRequestLog(handler, logger), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// loggingHook prints every domain event so the demo is easy to follow.
type loggingHook struct{ logger *slog.Logger }

func (h loggingHook) OnEvent(_ context.Context, e core.Event) {
	h.logger.Info("event", "type", e.Type, "user", e.UserID, "delta", e.Delta, "total", e.Total, "badge", e.Badge, "level", e.Level)
}

func seedCatalog(s *mem.Store) error {
	courses := []struct {
		course  core.Course
		lessons []core.Lesson
	}{
		{
			core.Course{ID: "go-basics", Title: "Go Basics", TotalLessons: 3},
			[]core.Lesson{
				{ID: "go-basics-intro", CourseID: "go-basics", Title: "Hello, Go", Type: core.LessonText, Position: 1},
				{ID: "go-basics-playground", CourseID: "go-basics", Title: "Playground", Type: core.LessonInteractive, Position: 2},
				{ID: "go-basics-quiz", CourseID: "go-basics", Title: "Checkpoint", Type: core.LessonQuiz, Position: 3},
			},
		},
		{
			core.Course{ID: "go-concurrency", Title: "Concurrency in Go", TotalLessons: 2},
			[]core.Lesson{
				{ID: "go-concurrency-channels", CourseID: "go-concurrency", Title: "Channels", Type: core.LessonText, Position: 1},
				{ID: "go-concurrency-lab", CourseID: "go-concurrency", Title: "Worker pool lab", Type: core.LessonPractical, Position: 2},
			},
		},
	}
	for _, c := range courses {
		if err := s.PutCourse(c.course, c.lessons...); err != nil {
			return err
		}
	}

	badges := []core.Achievement{
		{ID: "first-steps", Name: "First Steps", Criteria: core.Criterion{Kind: core.CriterionFirstLesson, Threshold: 1}, XPReward: 10, Rarity: core.RarityCommon},
		{ID: "graduate", Name: "Graduate", Criteria: core.Criterion{Kind: core.CriterionFirstCourse, Threshold: 1}, XPReward: 50, Rarity: core.RarityRare},
		{ID: "perfectionist", Name: "Perfectionist", Criteria: core.Criterion{Kind: core.CriterionPerfectScores, Threshold: 1}, XPReward: 25, Rarity: core.RarityRare},
		{ID: "xp-200", Name: "Two Hundred Club", Criteria: core.Criterion{Kind: core.CriterionTotalXP, Threshold: 200}, XPReward: 0, Rarity: core.RarityEpic},
	}
	for _, b := range badges {
		b.Active = true
		if err := s.PutAchievement(b); err != nil {
			return err
		}
	}
	return nil
}
