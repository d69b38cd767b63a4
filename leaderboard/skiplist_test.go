package leaderboard

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnkit/core"
)

func TestSkipListBasic(t *testing.T) {
	s := NewSkipList()
	s.Update(core.UserID("a"), 10)
	s.Update(core.UserID("b"), 20)
	s.Update(core.UserID("c"), 15)
	top := s.TopN(3)
	if len(top) != 3 || top[0].User != core.UserID("b") || top[1].User != core.UserID("c") || top[2].User != core.UserID("a") {
		t.Fatalf("unexpected order: %#v", top)
	}
	s.Update(core.UserID("a"), 25)
	top = s.TopN(1)
	if top[0].User != core.UserID("a") {
		t.Fatalf("top should be a, got %#v", top)
	}
}

func TestSkipListStandingWithTies(t *testing.T) {
	s := NewSkipList()
	s.Update("a", 300)
	s.Update("b", 200)
	s.Update("c", 200)
	s.Update("d", 50)

	st, ok := s.Standing("c")
	require.True(t, ok)
	assert.Equal(t, core.Standing{Score: 200, Above: 1, TotalUsers: 4, NextScore: 300}, st)

	st, _ = s.Standing("d")
	assert.Equal(t, int64(3), st.Above)
	assert.Equal(t, int64(200), st.NextScore)

	_, ok = s.Standing("nobody")
	assert.False(t, ok)
}

func TestSkipListNonPositiveRemoves(t *testing.T) {
	s := NewSkipList()
	s.Update("a", 10)
	s.Update("a", 0)
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestSkipListRaiseIgnoresStaleTotals(t *testing.T) {
	s := NewSkipList()
	s.Raise("a", 50)
	s.Raise("a", 30)
	e, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(50), e.Score)
	s.Raise("a", 70)
	e, _ = s.Get("a")
	assert.Equal(t, int64(70), e.Score)
}

func TestSkipListPage(t *testing.T) {
	s := NewSkipList()
	for i, u := range []core.UserID{"a", "b", "c", "d", "e"} {
		s.Update(u, int64(100-10*i))
	}
	page := s.Page(1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, core.UserID("b"), page[0].User)
	assert.Equal(t, core.UserID("c"), page[1].User)

	assert.Len(t, s.Page(3, 10), 2)
	assert.Nil(t, s.Page(5, 1))
	assert.Nil(t, s.Page(-1, 1))
	assert.Nil(t, s.TopN(0))
}

// TestSkipListMatchesSortedSlice checks spans against a plain sort after many
// random moves and removals.
func TestSkipListMatchesSortedSlice(t *testing.T) {
	s := NewSkipList()
	scores := map[core.UserID]int64{}
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		u := core.UserID(fmt.Sprintf("u%02d", rng.IntN(60)))
		score := int64(rng.IntN(40)) - 5
		s.Update(u, score)
		if score > 0 {
			scores[u] = score
		} else {
			delete(scores, u)
		}
	}

	want := make([]Entry, 0, len(scores))
	for u, sc := range scores {
		want = append(want, Entry{User: u, Score: sc})
	}
	sort.Slice(want, func(i, j int) bool { return ahead(want[i], want[j]) })

	require.Equal(t, len(want), s.Len())
	assert.Equal(t, want, s.TopN(len(want)+5))
	for i := range want {
		page := s.Page(i, 1)
		require.Len(t, page, 1)
		assert.Equal(t, want[i], page[0])

		st, ok := s.Standing(want[i].User)
		require.True(t, ok)
		var above int64
		var next int64
		for _, e := range want {
			if e.Score > want[i].Score {
				above++
				next = e.Score
			}
		}
		assert.Equal(t, above, st.Above, "above for %s", want[i].User)
		assert.Equal(t, next, st.NextScore, "next score for %s", want[i].User)
	}
}
