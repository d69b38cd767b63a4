package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"learnkit/core"
)

// Source answers rank queries from persisted data.
type Source interface {
	UserLister
	Standing(ctx context.Context, user core.UserID, since time.Time) (core.Standing, error)
}

// RankReader serves all-time ranks from the cache and windowed ranks from the
// XP ledger. A user without XP gets the unranked result instead of an error.
type RankReader struct {
	src   Source
	cache *Cache
	now   func() time.Time
}

func NewRankReader(src Source, cache *Cache) *RankReader {
	return &RankReader{src: src, cache: cache, now: func() time.Time { return time.Now().UTC() }}
}

func (r *RankReader) UserRank(ctx context.Context, user core.UserID, tf core.Timeframe) (core.UserRank, error) {
	if tf == core.TimeframeAllTime && r.cache != nil && r.cache.Ready() {
		board := r.cache.Board()
		st, ok := board.Standing(user)
		if !ok {
			return core.Unranked(user, tf, int64(board.Len())), nil
		}
		return core.RankFromStanding(user, tf, st), nil
	}
	st, err := r.src.Standing(ctx, user, tf.Since(r.now()))
	if err != nil {
		return core.UserRank{}, fmt.Errorf("%s standing for %s: %w", tf, user, err)
	}
	return core.RankFromStanding(user, tf, st), nil
}

// Top lists the n highest all-time totals.
func (r *RankReader) Top(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	if r.cache != nil && r.cache.Ready() {
		return r.cache.Board().TopN(n), nil
	}
	users, err := r.src.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]Entry, 0, len(users))
	for _, u := range users {
		if u.TotalXP > 0 {
			out = append(out, Entry{User: u.ID, Score: u.TotalXP})
		}
	}
	sort.Slice(out, func(i, j int) bool { return ahead(out[i], out[j]) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
