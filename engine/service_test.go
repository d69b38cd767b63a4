package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnkit/core"
	"learnkit/leaderboard"
)

func TestEnrollIsIdempotent(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()
	first, err := svc.Enroll(ctx, "ada", "go-101")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Percentage)

	complete(t, svc, "ada", "intro", "go-101", nil)
	again, err := svc.Enroll(ctx, "ada", "go-101")
	require.NoError(t, err)
	assert.Equal(t, 50, again.Percentage)

	_, err = svc.Enroll(ctx, "ada", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRankNeutralityForNewUser(t *testing.T) {
	svc, _ := newFixture(t)
	enroll(t, svc, "ada", "go-101")

	for _, tf := range []core.Timeframe{core.TimeframeAllTime, core.TimeframeWeekly, core.TimeframeMonthly} {
		r, err := svc.GetUserRank(context.Background(), "ada", tf)
		require.NoError(t, err)
		assert.Equal(t, int64(0), r.Rank)
		assert.Equal(t, float64(0), r.Percentile)
	}
	r, err := svc.GetUserRank(context.Background(), "never-seen", "")
	require.NoError(t, err)
	assert.Equal(t, core.TimeframeAllTime, r.Timeframe)
	assert.Equal(t, int64(0), r.Rank)

	_, err = svc.GetUserRank(context.Background(), "ada", "yearly")
	assert.Error(t, err)
}

func TestRanksAcrossUsers(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"ada", "bo", "cy"} {
		enroll(t, svc, u, "go-101")
	}
	complete(t, svc, "ada", "intro", "go-101", nil)
	complete(t, svc, "ada", "syntax", "go-101", nil)
	complete(t, svc, "bo", "intro", "go-101", nil)

	r, err := svc.GetUserRank(ctx, "bo", core.TimeframeWeekly)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Rank)
	assert.Equal(t, int64(2), r.TotalUsers)
	assert.Equal(t, float64(0), r.Percentile)
	assert.Equal(t, int64(111), r.XPToNextRank)

	top, err := svc.Leaderboard(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []leaderboard.Entry{{User: "ada", Score: 120}, {User: "bo", Score: 10}}, top)
}

func TestRankFromCacheReader(t *testing.T) {
	mem := newMem(t)
	cache := leaderboard.NewCache()
	svc := newService(t, mem, WithRankReader(leaderboard.NewRankReader(mem, cache)))
	svc.Subscribe(core.EventXPAwarded, cache.Observe)
	enroll(t, svc, "ada", "go-101")
	_, err := cache.Rebuild(context.Background(), mem)
	require.NoError(t, err)

	complete(t, svc, "ada", "intro", "go-101", nil)
	r, err := svc.GetUserRank(context.Background(), "ada", core.TimeframeAllTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Rank)
	assert.Equal(t, int64(10), r.XP)
}

func TestGetUserProgress(t *testing.T) {
	svc, _ := newFixture(t)
	enroll(t, svc, "ada", "go-101")
	complete(t, svc, "ada", "intro", "go-101", nil)
	complete(t, svc, "ada", "syntax", "go-101", nil)

	p, err := svc.GetUserProgress(context.Background(), "Ada")
	require.NoError(t, err)
	assert.Equal(t, int64(120), p.Level.TotalXP)
	assert.Equal(t, int64(1), p.Level.Level)
	assert.Equal(t, int64(162), p.Level.XPToNextLevel)
	assert.Equal(t, int64(1), p.User.CoursesCompleted)

	_, err = svc.GetUserProgress(context.Background(), "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)

	cp, err := svc.GetCourseProgress(context.Background(), "ada", "go-101")
	require.NoError(t, err)
	assert.True(t, cp.Complete())
}
