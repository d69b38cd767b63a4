package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnkit/adapters/memory"
	"learnkit/core"
	"learnkit/engine"
)

var _ engine.Storage = (*memory.Store)(nil)

func TestMemoryUserCounters(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.AddXP(ctx, "u", 5)
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.EnsureUser(ctx, "u")
	require.NoError(t, err)
	total, err := s.AddXP(ctx, "u", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	n, err := s.IncrementCounter(ctx, "u", core.CounterBadgesEarned, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	u, err := s.GetUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Level)
	assert.Equal(t, int64(2), u.BadgesEarned)
}

func TestMemoryWithoutAtomicAdd(t *testing.T) {
	s := memory.New(memory.WithoutAtomicAdd())
	_, _ = s.EnsureUser(context.Background(), "u")
	_, err := s.AddXP(context.Background(), "u", 5)
	assert.ErrorIs(t, err, core.ErrAtomicUnavailable)
}

func TestMemoryUniqueness(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	c := core.Completion{ID: "1", UserID: "u", LessonID: "l"}
	require.NoError(t, s.InsertCompletion(ctx, c))
	assert.ErrorIs(t, s.InsertCompletion(ctx, c), core.ErrAlreadyExists)

	ua := core.UserAchievement{ID: "1", UserID: "u", AchievementID: "b", EarnedAt: time.Unix(200, 0)}
	require.NoError(t, s.InsertUserAchievement(ctx, ua))
	assert.ErrorIs(t, s.InsertUserAchievement(ctx, ua), core.ErrAlreadyExists)
	require.NoError(t, s.InsertUserAchievement(ctx, core.UserAchievement{ID: "2", UserID: "u", AchievementID: "a", EarnedAt: time.Unix(100, 0)}))
	held, err := s.UserAchievements(ctx, "u")
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, core.AchievementID("a"), held[0].AchievementID)
	none, err := s.UserAchievements(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	p := core.CourseProgress{UserID: "u", CourseID: "c"}
	require.NoError(t, s.CreateProgress(ctx, p))
	assert.ErrorIs(t, s.CreateProgress(ctx, p), core.ErrAlreadyExists)
}

func TestMemoryConcurrentInsertOnlyOneWins(t *testing.T) {
	s := memory.New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.InsertCompletion(context.Background(), core.Completion{UserID: "u", LessonID: "l"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryAdvanceProgress(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.AdvanceProgress(ctx, "u", "c", "l1", 2, time.Now())
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.CreateProgress(ctx, core.CourseProgress{UserID: "u", CourseID: "c"}))
	ch, err := s.AdvanceProgress(ctx, "u", "c", "l1", 2, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50, ch.After.Percentage)
	ch, err = s.AdvanceProgress(ctx, "u", "c", "l2", 2, time.Now())
	require.NoError(t, err)
	assert.True(t, ch.JustCompleted())
}

func TestMemoryWindowedStanding(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, ev := range []core.XPEvent{
		{UserID: "a", Amount: 100, At: now.AddDate(0, 0, -20)},
		{UserID: "a", Amount: 10, At: now.AddDate(0, 0, -1)},
		{UserID: "b", Amount: 30, At: now.AddDate(0, 0, -2)},
	} {
		require.NoError(t, s.AppendXPEvent(ctx, ev))
	}
	st, err := s.Standing(ctx, "a", now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, core.Standing{Score: 10, Above: 1, TotalUsers: 2, NextScore: 30}, st)

	st, err = s.Standing(ctx, "a", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Above)
	assert.Equal(t, int64(110), st.Score)
}

func TestMemorySnapshotRestore(t *testing.T) {
	ctx := context.Background()
	var snaps int
	s := memory.New(memory.WithPersist(func(memory.Snapshot) error { snaps++; return nil }))
	require.NoError(t, s.PutCourse(core.Course{ID: "c", TotalLessons: 1}, core.Lesson{ID: "l", Type: core.LessonText}))
	_, err := s.EnsureUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, snaps)

	other := memory.New()
	other.Restore(s.Snapshot())
	l, err := other.GetLesson(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, core.CourseID("c"), l.CourseID)
	_, err = other.GetUser(ctx, "u")
	assert.NoError(t, err)
}
