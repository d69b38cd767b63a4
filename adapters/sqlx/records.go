package sqlx

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"learnkit/core"
)

// PutCourse upserts a course and its lessons.
func (s *Store) PutCourse(ctx context.Context, c core.Course, lessons ...core.Lesson) error {
	return s.inTx(ctx, "put course", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(s.upsert("courses", "id", "title", "total_lessons")), c.ID, c.Title, c.TotalLessons); err != nil {
			return mapErr("put course", err)
		}
		for _, l := range lessons {
			l.CourseID = c.ID
			if _, err := tx.ExecContext(ctx, s.q(s.upsert("lessons", "id", "course_id", "title", "lesson_type", "position")),
				l.ID, l.CourseID, l.Title, l.Type, l.Position); err != nil {
				return mapErr("put lesson", err)
			}
		}
		return nil
	})
}

// upsert builds an insert-or-replace statement keyed on the first column.
func (s *Store) upsert(table string, cols ...string) string {
	q := `INSERT INTO ` + table + ` (`
	vals, sets := "", ""
	for i, c := range cols {
		if i > 0 {
			q += ", "
			vals += ", "
		}
		q += c
		vals += "?"
		if i == 0 {
			continue
		}
		if sets != "" {
			sets += ", "
		}
		if s.driver == DriverMySQL {
			sets += c + " = VALUES(" + c + ")"
		} else {
			sets += c + " = EXCLUDED." + c
		}
	}
	q += `) VALUES (` + vals + `) `
	if s.driver == DriverMySQL {
		return q + `ON DUPLICATE KEY UPDATE ` + sets
	}
	return q + `ON CONFLICT (` + cols[0] + `) DO UPDATE SET ` + sets
}

func (s *Store) GetCourse(ctx context.Context, course core.CourseID) (core.Course, error) {
	var c core.Course
	err := s.db.GetContext(ctx, &c, s.q(`SELECT id, title, total_lessons FROM courses WHERE id = ?`), course)
	return c, mapErr("get course "+string(course), err)
}

func (s *Store) GetLesson(ctx context.Context, lesson core.LessonID) (core.Lesson, error) {
	var l core.Lesson
	err := s.db.GetContext(ctx, &l, s.q(`SELECT id, course_id, title, lesson_type, position FROM lessons WHERE id = ?`), lesson)
	return l, mapErr("get lesson "+string(lesson), err)
}

func (s *Store) GetCompletion(ctx context.Context, user core.UserID, lesson core.LessonID) (core.Completion, error) {
	var c core.Completion
	err := s.db.GetContext(ctx, &c, s.q(`SELECT id, user_id, lesson_id, course_id, score, time_spent_seconds, xp_awarded, completed_at
		FROM lesson_completions WHERE user_id = ? AND lesson_id = ?`), user, lesson)
	if err != nil {
		return core.Completion{}, mapErr("get completion", err)
	}
	c.CompletedAt = c.CompletedAt.UTC()
	return c, nil
}

// InsertCompletion relies on UNIQUE (user_id, lesson_id).
func (s *Store) InsertCompletion(ctx context.Context, c core.Completion) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO lesson_completions
		(id, user_id, lesson_id, course_id, score, time_spent_seconds, xp_awarded, completed_at)
		VALUES (:id, :user_id, :lesson_id, :course_id, :score, :time_spent_seconds, :xp_awarded, :completed_at)`, c)
	return mapErr("insert completion", err)
}

func (s *Store) CountPerfectQuizzes(ctx context.Context, user core.UserID) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM lesson_completions WHERE user_id = ? AND score = ?`), user, core.PerfectScore)
	return n, mapErr("count perfect quizzes", err)
}

const progressColumns = `user_id, course_id, lessons_completed, percentage, current_lesson_id, enrolled_at, completed_at, updated_at`

func (s *Store) GetProgress(ctx context.Context, user core.UserID, course core.CourseID) (core.CourseProgress, error) {
	var p core.CourseProgress
	err := s.db.GetContext(ctx, &p, s.q(`SELECT `+progressColumns+` FROM course_progress WHERE user_id = ? AND course_id = ?`), user, course)
	return p, mapErr("get progress", err)
}

func (s *Store) CreateProgress(ctx context.Context, p core.CourseProgress) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO course_progress (`+progressColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.UserID, p.CourseID, p.LessonsCompleted, p.Percentage, p.CurrentLessonID, p.EnrolledAt, p.CompletedAt, p.Updated)
	return mapErr("create progress", err)
}

// AdvanceProgress locks the row with SELECT ... FOR UPDATE so concurrent
// completions in the same course serialize on it.
func (s *Store) AdvanceProgress(ctx context.Context, user core.UserID, course core.CourseID, lesson core.LessonID, totalLessons int, at time.Time) (core.ProgressChange, error) {
	var change core.ProgressChange
	err := s.inTx(ctx, "advance progress", func(tx *sqlx.Tx) error {
		var before core.CourseProgress
		if err := tx.GetContext(ctx, &before, s.q(`SELECT `+progressColumns+` FROM course_progress WHERE user_id = ? AND course_id = ? FOR UPDATE`), user, course); err != nil {
			return mapErr("advance progress", err)
		}
		after, err := core.ApplyLessonCompletion(before, lesson, totalLessons, at)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE course_progress SET lessons_completed = ?, percentage = ?, current_lesson_id = ?, completed_at = ?, updated_at = ?
			WHERE user_id = ? AND course_id = ?`),
			after.LessonsCompleted, after.Percentage, after.CurrentLessonID, after.CompletedAt, after.Updated, user, course); err != nil {
			return mapErr("advance progress", err)
		}
		change = core.ProgressChange{Before: before, After: after}
		return nil
	})
	return change, err
}

type achievementRow struct {
	ID          core.AchievementID `db:"id"`
	Name        string             `db:"name"`
	Description string             `db:"description"`
	Criteria    []byte             `db:"criteria"`
	XPReward    int64              `db:"xp_reward"`
	Rarity      core.Rarity        `db:"rarity"`
	Active      bool               `db:"active"`
	EarnedCount int64              `db:"earned_count"`
}

// PutAchievement upserts a badge definition; EarnedCount is left untouched.
func (s *Store) PutAchievement(ctx context.Context, a core.Achievement) error {
	crit, err := a.Criteria.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(s.upsert("achievements", "id", "name", "description", "criteria", "xp_reward", "rarity", "active")),
		a.ID, a.Name, a.Description, string(crit), a.XPReward, a.Rarity, a.Active)
	return mapErr("put achievement", err)
}

// ListAchievements degrades unparseable criteria to core.CriterionUnknown.
func (s *Store) ListAchievements(ctx context.Context, activeOnly bool) ([]core.Achievement, error) {
	query := `SELECT id, name, description, criteria, xp_reward, rarity, active, earned_count FROM achievements`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY id`
	var rows []achievementRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, mapErr("list achievements", err)
	}
	out := make([]core.Achievement, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Achievement{
			ID: r.ID, Name: r.Name, Description: r.Description,
			Criteria: core.LenientCriterion(r.Criteria),
			XPReward: r.XPReward, Rarity: r.Rarity, Active: r.Active, EarnedCount: r.EarnedCount,
		})
	}
	return out, nil
}

func (s *Store) GetUserAchievement(ctx context.Context, user core.UserID, id core.AchievementID) (core.UserAchievement, error) {
	var ua core.UserAchievement
	err := s.db.GetContext(ctx, &ua, s.q(`SELECT id, user_id, achievement_id, xp_awarded, earned_at FROM user_achievements
		WHERE user_id = ? AND achievement_id = ?`), user, id)
	ua.EarnedAt = ua.EarnedAt.UTC()
	return ua, mapErr("get user achievement", err)
}

// InsertUserAchievement relies on UNIQUE (user_id, achievement_id).
func (s *Store) InsertUserAchievement(ctx context.Context, ua core.UserAchievement) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO user_achievements (id, user_id, achievement_id, xp_awarded, earned_at)
		VALUES (:id, :user_id, :achievement_id, :xp_awarded, :earned_at)`, ua)
	return mapErr("insert user achievement", err)
}

func (s *Store) IncrementEarnedCount(ctx context.Context, id core.AchievementID) error {
	return s.execOne(ctx, "increment earned count", `UPDATE achievements SET earned_count = earned_count + 1 WHERE id = ?`, id)
}

// UserAchievements lists the badges a user holds, oldest first.
func (s *Store) UserAchievements(ctx context.Context, user core.UserID) ([]core.UserAchievement, error) {
	out := []core.UserAchievement{}
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT id, user_id, achievement_id, xp_awarded, earned_at FROM user_achievements
		WHERE user_id = ? ORDER BY earned_at, achievement_id`), user)
	if err != nil {
		return nil, mapErr("list user achievements", err)
	}
	return out, nil
}
