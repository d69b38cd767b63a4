package sqlx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"learnkit/core"
)

const userColumns = `id, total_xp, level, lessons_completed, courses_completed, badges_earned,
	current_streak, longest_streak, last_active_at, created_at, updated_at`

// userRow mirrors the users table; last_active_at is NULL until first activity.
type userRow struct {
	ID               core.UserID  `db:"id"`
	TotalXP          int64        `db:"total_xp"`
	Level            int64        `db:"level"`
	LessonsCompleted int64        `db:"lessons_completed"`
	CoursesCompleted int64        `db:"courses_completed"`
	BadgesEarned     int64        `db:"badges_earned"`
	CurrentStreak    int64        `db:"current_streak"`
	LongestStreak    int64        `db:"longest_streak"`
	LastActiveAt     sql.NullTime `db:"last_active_at"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

func (r userRow) toUser() core.User {
	u := core.User{
		ID:               r.ID,
		TotalXP:          r.TotalXP,
		Level:            r.Level,
		LessonsCompleted: r.LessonsCompleted,
		CoursesCompleted: r.CoursesCompleted,
		BadgesEarned:     r.BadgesEarned,
		CurrentStreak:    r.CurrentStreak,
		LongestStreak:    r.LongestStreak,
		CreatedAt:        r.CreatedAt.UTC(),
		Updated:          r.UpdatedAt.UTC(),
	}
	if r.LastActiveAt.Valid {
		u.LastActiveAt = r.LastActiveAt.Time.UTC()
	}
	return u
}

// counterColumns whitelists the counters that may be interpolated into SQL.
var counterColumns = map[core.Counter]string{
	core.CounterLessonsCompleted: "lessons_completed",
	core.CounterCoursesCompleted: "courses_completed",
	core.CounterBadgesEarned:     "badges_earned",
}

func (s *Store) EnsureUser(ctx context.Context, user core.UserID) (core.User, error) {
	now := s.now()
	insert := `INSERT INTO users (id, total_xp, level, created_at, updated_at) VALUES (?, 0, 1, ?, ?) ON CONFLICT (id) DO NOTHING`
	if s.driver == DriverMySQL {
		insert = `INSERT IGNORE INTO users (id, total_xp, level, created_at, updated_at) VALUES (?, 0, 1, ?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, s.q(insert), user, now, now); err != nil {
		return core.User{}, mapErr("ensure user", err)
	}
	return s.GetUser(ctx, user)
}

func (s *Store) GetUser(ctx context.Context, user core.UserID) (core.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), user)
	if err != nil {
		return core.User{}, mapErr("get user "+string(user), err)
	}
	return row.toUser(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]core.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, mapErr("list users", err)
	}
	out := make([]core.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toUser())
	}
	return out, nil
}

// AddXP is a single UPDATE ... + ? statement; MySQL has no RETURNING so the
// new total is read back inside the same transaction.
func (s *Store) AddXP(ctx context.Context, user core.UserID, delta int64) (int64, error) {
	return s.addColumn(ctx, "add xp", "total_xp", user, delta)
}

func (s *Store) IncrementCounter(ctx context.Context, user core.UserID, c core.Counter, delta int64) (int64, error) {
	col, ok := counterColumns[c]
	if !ok {
		return 0, fmt.Errorf("unknown counter %q", c)
	}
	return s.addColumn(ctx, "increment "+col, col, user, delta)
}

func (s *Store) addColumn(ctx context.Context, op, col string, user core.UserID, delta int64) (int64, error) {
	now := s.now()
	if s.driver == DriverPostgres {
		var total int64
		query := `UPDATE users SET ` + col + ` = ` + col + ` + ?, updated_at = ? WHERE id = ? RETURNING ` + col
		if err := s.db.GetContext(ctx, &total, s.q(query), delta, now, user); err != nil {
			return 0, mapErr(op, err)
		}
		return total, nil
	}
	var total int64
	err := s.inTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE users SET `+col+` = `+col+` + ?, updated_at = ? WHERE id = ?`), delta, now, user)
		if err != nil {
			return mapErr(op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s: %w", op, core.ErrNotFound)
		}
		return mapErr(op, tx.GetContext(ctx, &total, s.q(`SELECT `+col+` FROM users WHERE id = ?`), user))
	})
	return total, err
}

func (s *Store) SetXP(ctx context.Context, user core.UserID, total int64) error {
	return s.execOne(ctx, "set xp", `UPDATE users SET total_xp = ?, updated_at = ? WHERE id = ?`, total, s.now(), user)
}

func (s *Store) SetLevel(ctx context.Context, user core.UserID, level int64) error {
	return s.execOne(ctx, "set level", `UPDATE users SET level = ?, updated_at = ? WHERE id = ?`, level, s.now(), user)
}

func (s *Store) SetStreak(ctx context.Context, user core.UserID, st core.Streak) error {
	return s.execOne(ctx, "set streak",
		`UPDATE users SET current_streak = ?, longest_streak = ?, last_active_at = ?, updated_at = ? WHERE id = ?`,
		st.Current, st.Longest, st.LastActiveAt, s.now(), user)
}
