package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnkit/adapters/memory"
	"learnkit/core"
)

func intp(v int) *int { return &v }

var fastRetries = []ServiceOption{
	WithEnrollmentBackoff(Backoff{Retries: 3, Base: time.Millisecond}),
	WithReadBackoff(Backoff{Retries: 1, Base: time.Millisecond}),
}

func seedCatalog(t *testing.T, s *memory.Store) {
	t.Helper()
	require.NoError(t, s.PutCourse(core.Course{ID: "go-101", Title: "Go basics", TotalLessons: 2},
		core.Lesson{ID: "intro", Title: "Intro", Type: core.LessonText, Position: 1},
		core.Lesson{ID: "syntax", Title: "Syntax", Type: core.LessonInteractive, Position: 2},
	))
	require.NoError(t, s.PutCourse(core.Course{ID: "quiz-201", Title: "Quizzes", TotalLessons: 3},
		core.Lesson{ID: "q1", Type: core.LessonQuiz, Position: 1},
		core.Lesson{ID: "q2", Type: core.LessonQuiz, Position: 2},
		core.Lesson{ID: "lab", Type: core.LessonPractical, Position: 3},
	))
	require.NoError(t, s.PutCourse(core.Course{ID: "draft", Title: "Draft", TotalLessons: 0},
		core.Lesson{ID: "stub", Type: core.LessonText},
	))
}

func newService(t *testing.T, store Storage, opts ...ServiceOption) *ProgressService {
	t.Helper()
	all := append([]ServiceOption{WithAutoBadgeCheck(false)}, fastRetries...)
	return NewProgressService(store, NewEventBus(DispatchSync), append(all, opts...)...)
}

func newFixture(t *testing.T, memOpts ...memory.Option) (*ProgressService, *memory.Store) {
	t.Helper()
	store := memory.New(memOpts...)
	seedCatalog(t, store)
	return newService(t, store), store
}

func complete(t *testing.T, svc *ProgressService, user, lesson, course string, score *int) CompletionResult {
	t.Helper()
	res, err := svc.CompleteLesson(context.Background(), CompleteLessonRequest{
		UserID: core.UserID(user), LessonID: core.LessonID(lesson), CourseID: core.CourseID(course), Score: score,
	})
	require.NoError(t, err)
	return res
}

func enroll(t *testing.T, svc *ProgressService, user, course string) {
	t.Helper()
	_, err := svc.Enroll(context.Background(), core.UserID(user), core.CourseID(course))
	require.NoError(t, err)
}

// lateProgress hides the progress record for the first misses reads.
type lateProgress struct {
	*memory.Store
	misses atomic.Int64
	reads  atomic.Int64
}

func (s *lateProgress) GetProgress(ctx context.Context, user core.UserID, course core.CourseID) (core.CourseProgress, error) {
	if s.reads.Add(1) <= s.misses.Load() {
		return core.CourseProgress{}, core.ErrNotFound
	}
	return s.Store.GetProgress(ctx, user, course)
}

// blindCompletions never sees existing completions, so two calls both pass the pre-check.
type blindCompletions struct{ *memory.Store }

func (s blindCompletions) GetCompletion(context.Context, core.UserID, core.LessonID) (core.Completion, error) {
	return core.Completion{}, core.ErrNotFound
}

// blindBadges never sees existing user achievements.
type blindBadges struct{ *memory.Store }

func (s blindBadges) GetUserAchievement(context.Context, core.UserID, core.AchievementID) (core.UserAchievement, error) {
	return core.UserAchievement{}, core.ErrNotFound
}

// brokenXP fails every XP grant.
type brokenXP struct{ *memory.Store }

func (s brokenXP) AddXP(context.Context, core.UserID, int64) (int64, error) {
	return 0, errors.New("connection refused")
}

// flakyLessons fails lesson reads with a transient error the first time.
type flakyLessons struct {
	*memory.Store
	failed atomic.Bool
}

func (s *flakyLessons) GetLesson(ctx context.Context, id core.LessonID) (core.Lesson, error) {
	if s.failed.CompareAndSwap(false, true) {
		return core.Lesson{}, core.Transient(errors.New("i/o timeout"))
	}
	return s.Store.GetLesson(ctx, id)
}

func newMem(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	seedCatalog(t, s)
	return s
}

// flakyQuizCount fails the perfect-quiz count transiently for the first fails calls.
type flakyQuizCount struct {
	*memory.Store
	fails atomic.Int64
	calls atomic.Int64
}

func (s *flakyQuizCount) CountPerfectQuizzes(ctx context.Context, user core.UserID) (int64, error) {
	if s.calls.Add(1) <= s.fails.Load() {
		return 0, core.Transient(errors.New("connection reset by peer"))
	}
	return s.Store.CountPerfectQuizzes(ctx, user)
}
