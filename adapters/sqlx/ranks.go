package sqlx

import (
	"context"
	"time"

	"learnkit/core"
)

func (s *Store) AppendXPEvent(ctx context.Context, ev core.XPEvent) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO xp_events (id, user_id, amount, source, source_id, created_at)
		VALUES (:id, :user_id, :amount, :source, :source_id, :created_at)`, ev)
	return mapErr("append xp event", err)
}

// Standing ranks on users.total_xp for all-time and on ledger sums for windows.
func (s *Store) Standing(ctx context.Context, user core.UserID, since time.Time) (core.Standing, error) {
	var (
		st     core.Standing
		scores string
		args   []any
	)
	if since.IsZero() {
		scores = `SELECT id AS user_id, total_xp AS score FROM users`
	} else {
		scores = `SELECT user_id, SUM(amount) AS score FROM xp_events WHERE created_at >= ? GROUP BY user_id`
		args = []any{since}
	}

	if err := s.db.GetContext(ctx, &st.Score,
		s.q(`SELECT COALESCE(MAX(w.score), 0) FROM (`+scores+`) w WHERE w.user_id = ?`), append(args, user)...); err != nil {
		return core.Standing{}, mapErr("standing score", err)
	}
	if err := s.db.GetContext(ctx, &st.TotalUsers,
		s.q(`SELECT COUNT(*) FROM (`+scores+`) w WHERE w.score > 0`), args...); err != nil {
		return core.Standing{}, mapErr("standing total", err)
	}
	if st.Score <= 0 {
		return core.Standing{TotalUsers: st.TotalUsers}, nil
	}
	var above struct {
		Count int64 `db:"n"`
		Next  int64 `db:"next_score"`
	}
	if err := s.db.GetContext(ctx, &above,
		s.q(`SELECT COUNT(*) AS n, COALESCE(MIN(w.score), 0) AS next_score FROM (`+scores+`) w WHERE w.score > ?`), append(args, st.Score)...); err != nil {
		return core.Standing{}, mapErr("standing above", err)
	}
	st.Above, st.NextScore = above.Count, above.Next
	return st, nil
}
