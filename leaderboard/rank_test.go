package leaderboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnkit/core"
)

type fakeSource struct {
	users     []core.User
	windowed  map[core.UserID]core.Standing
	lastSince time.Time
	err       error
}

func (f *fakeSource) ListUsers(context.Context) ([]core.User, error) { return f.users, f.err }

func (f *fakeSource) Standing(_ context.Context, user core.UserID, since time.Time) (core.Standing, error) {
	f.lastSince = since
	if f.err != nil {
		return core.Standing{}, f.err
	}
	return f.windowed[user], nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		users: []core.User{
			{ID: "ana", TotalXP: 500},
			{ID: "bo", TotalXP: 300},
			{ID: "cy", TotalXP: 100},
			{ID: "dee", TotalXP: 0},
		},
		windowed: map[core.UserID]core.Standing{
			"cy": {Score: 90, Above: 0, TotalUsers: 2},
			"bo": {Score: 40, Above: 1, TotalUsers: 2, NextScore: 90},
		},
	}
}

func TestAllTimeRankFromCache(t *testing.T) {
	src := newFakeSource()
	cache := NewCache()
	n, err := cache.Rebuild(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, cache.BuiltAt().IsZero())

	r := NewRankReader(src, cache)
	rank, err := r.UserRank(context.Background(), "bo", core.TimeframeAllTime)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank.Rank)
	assert.Equal(t, int64(3), rank.TotalUsers)
	assert.InDelta(t, 33.33, rank.Percentile, 0.01)
	assert.Equal(t, int64(201), rank.XPToNextRank)
}

func TestUnrankedUserIsNeutral(t *testing.T) {
	src := newFakeSource()
	cache := NewCache()
	_, err := cache.Rebuild(context.Background(), src)
	require.NoError(t, err)

	rank, err := NewRankReader(src, cache).UserRank(context.Background(), "dee", core.TimeframeAllTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank.Rank)
	assert.Equal(t, float64(0), rank.Percentile)
}

func TestWindowedRankUsesLedger(t *testing.T) {
	src := newFakeSource()
	r := NewRankReader(src, NewCache())
	now := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	rank, err := r.UserRank(context.Background(), "bo", core.TimeframeWeekly)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank.Rank)
	assert.Equal(t, int64(51), rank.XPToNextRank)
	assert.Equal(t, now.AddDate(0, 0, -7), src.lastSince)

	rank, err = r.UserRank(context.Background(), "ana", core.TimeframeMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank.Rank)
}

func TestAllTimeFallsBackToSourceBeforeFirstRebuild(t *testing.T) {
	src := newFakeSource()
	src.windowed["ana"] = core.Standing{Score: 500, TotalUsers: 3}
	rank, err := NewRankReader(src, NewCache()).UserRank(context.Background(), "ana", core.TimeframeAllTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank.Rank)
	assert.True(t, src.lastSince.IsZero())

	src.err = errors.New("db down")
	_, err = NewRankReader(src, nil).UserRank(context.Background(), "ana", core.TimeframeAllTime)
	assert.Error(t, err)
}

func TestObserveKeepsCacheCurrent(t *testing.T) {
	src := newFakeSource()
	cache := NewCache()
	_, err := cache.Rebuild(context.Background(), src)
	require.NoError(t, err)

	cache.Observe(context.Background(), core.NewXPAwarded("cy", core.XPSourceLesson, 450, 550))
	cache.Observe(context.Background(), core.NewLevelUp("cy", 9))

	top, err := NewRankReader(src, cache).Top(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, core.UserID("cy"), top[0].User)
	assert.Equal(t, core.UserID("ana"), top[1].User)
}

func TestTopWithoutCacheSortsSource(t *testing.T) {
	top, err := NewRankReader(newFakeSource(), nil).Top(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, core.UserID("ana"), top[0].User)
	assert.Equal(t, core.UserID("cy"), top[2].User)
}

func TestTopWithoutCacheOrdersUnsortedSourceAndTies(t *testing.T) {
	src := &fakeSource{users: []core.User{
		{ID: "zed", TotalXP: 200},
		{ID: "cy", TotalXP: 50},
		{ID: "amy", TotalXP: 200},
		{ID: "bo", TotalXP: 900},
		{ID: "dee", TotalXP: 0},
	}}
	top, err := NewRankReader(src, nil).Top(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"bo", 900}, {"amy", 200}, {"zed", 200}}, top)
}

func TestRunRebuildsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cache := NewCache()
	done := make(chan struct{})
	go func() {
		cache.RunRebuilds(ctx, newFakeSource(), time.Millisecond, nil)
		close(done)
	}()
	require.Eventually(t, cache.Ready, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rebuild loop did not stop")
	}
}
