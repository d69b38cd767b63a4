package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"learnkit/core"
)

// AppendXPEvent adds the award to the sorted set of its UTC day. Buckets
// expire after the longest rank window.
func (s *Store) AppendXPEvent(ctx context.Context, ev core.XPEvent) error {
	key := dayKey(ev.At)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZIncrBy(ctx, key, float64(ev.Amount), string(ev.UserID))
		p.Expire(ctx, key, dayBucketTTL)
		return nil
	})
	return wrap("append xp event", err)
}

// Standing ranks user on the all-time set, or on the union of the day
// buckets from since's UTC day through today. Windows have day granularity.
func (s *Store) Standing(ctx context.Context, user core.UserID, since time.Time) (core.Standing, error) {
	if since.IsZero() {
		return s.standingIn(ctx, allTimeKey, user)
	}
	keys := dayKeys(since, s.now())
	tmp := "lk:xp:window:" + uuid.NewString()
	if err := s.client.ZUnionStore(ctx, tmp, &redis.ZStore{Keys: keys, Aggregate: "SUM"}).Err(); err != nil {
		return core.Standing{}, wrap("window union", err)
	}
	defer s.client.Del(context.WithoutCancel(ctx), tmp)
	return s.standingIn(ctx, tmp, user)
}

func dayKeys(since, now time.Time) []string {
	start := since.UTC().Truncate(24 * time.Hour)
	end := now.UTC().Truncate(24 * time.Hour)
	var keys []string
	for d := start; !d.After(end); d = d.Add(24 * time.Hour) {
		keys = append(keys, dayKey(d))
	}
	if len(keys) == 0 {
		keys = append(keys, dayKey(now))
	}
	return keys
}

func (s *Store) standingIn(ctx context.Context, key string, user core.UserID) (core.Standing, error) {
	total, err := s.client.ZCount(ctx, key, "(0", "+inf").Result()
	if err != nil {
		return core.Standing{}, wrap("count ranked users", err)
	}
	st := core.Standing{TotalUsers: total}
	score, err := s.client.ZScore(ctx, key, string(user)).Result()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return core.Standing{}, wrap("read score", err)
	}
	st.Score = int64(score)
	if st.Score <= 0 {
		return st, nil
	}
	above := "(" + strconv.FormatFloat(score, 'f', -1, 64)
	if st.Above, err = s.client.ZCount(ctx, key, above, "+inf").Result(); err != nil {
		return core.Standing{}, wrap("count users above", err)
	}
	if st.Above == 0 {
		return st, nil
	}
	next, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: above, Max: "+inf", Offset: 0, Count: 1}).Result()
	if err != nil {
		return core.Standing{}, wrap("next score", err)
	}
	if len(next) > 0 {
		st.NextScore = int64(next[0].Score)
	}
	return st, nil
}
