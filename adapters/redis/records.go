package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"learnkit/core"
)

// maxTxRetries bounds optimistic transaction retries on contended keys.
const maxTxRetries = 16

type courseHash struct {
	ID           string `redis:"id"`
	Title        string `redis:"title"`
	TotalLessons int    `redis:"total_lessons"`
}

type lessonHash struct {
	ID       string `redis:"id"`
	CourseID string `redis:"course_id"`
	Title    string `redis:"title"`
	Type     string `redis:"lesson_type"`
	Position int    `redis:"position"`
}

// PutCourse writes catalog data. Seeding only.
func (s *Store) PutCourse(ctx context.Context, c core.Course, lessons ...core.Lesson) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, courseKey(c.ID), "id", string(c.ID), "title", c.Title, "total_lessons", c.TotalLessons)
		for _, l := range lessons {
			if l.CourseID == "" {
				l.CourseID = c.ID
			}
			p.HSet(ctx, lessonKey(l.ID),
				"id", string(l.ID), "course_id", string(l.CourseID), "title", l.Title,
				"lesson_type", string(l.Type), "position", l.Position)
		}
		return nil
	})
	return wrap("put course", err)
}

func (s *Store) GetCourse(ctx context.Context, id core.CourseID) (core.Course, error) {
	var h courseHash
	if err := s.scanHash(ctx, courseKey(id), &h); err != nil {
		return core.Course{}, fmt.Errorf("course %s: %w", id, err)
	}
	return core.Course{ID: core.CourseID(h.ID), Title: h.Title, TotalLessons: h.TotalLessons}, nil
}

func (s *Store) GetLesson(ctx context.Context, id core.LessonID) (core.Lesson, error) {
	var h lessonHash
	if err := s.scanHash(ctx, lessonKey(id), &h); err != nil {
		return core.Lesson{}, fmt.Errorf("lesson %s: %w", id, err)
	}
	return core.Lesson{ID: core.LessonID(h.ID), CourseID: core.CourseID(h.CourseID), Title: h.Title, Type: core.LessonType(h.Type), Position: h.Position}, nil
}

// scanHash reads a hash into dst, reporting a missing key as core.ErrNotFound.
func (s *Store) scanHash(ctx context.Context, key string, dst any) error {
	return scanHashWith(ctx, s.client, key, dst)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func scanHashWith(ctx context.Context, c hashReader, key string, dst any) error {
	cmd := c.HGetAll(ctx, key)
	if err := cmd.Err(); err != nil {
		return wrap("read", err)
	}
	if len(cmd.Val()) == 0 {
		return core.ErrNotFound
	}
	return cmd.Scan(dst)
}

// getJSON decodes the JSON string stored at key.
func (s *Store) getJSON(ctx context.Context, key string, dst any) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return wrap("read", err)
	}
	return json.Unmarshal(b, dst)
}

func (s *Store) GetCompletion(ctx context.Context, user core.UserID, lesson core.LessonID) (core.Completion, error) {
	var c core.Completion
	if err := s.getJSON(ctx, completionKey(user, lesson), &c); err != nil {
		return core.Completion{}, fmt.Errorf("completion %s/%s: %w", user, lesson, err)
	}
	return c, nil
}

func (s *Store) InsertCompletion(ctx context.Context, c core.Completion) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	perfect := "0"
	if c.Perfect() {
		perfect = "1"
	}
	n, err := insertOnceScript.Run(ctx, s.client, []string{completionKey(c.UserID, c.LessonID), perfectKey(c.UserID)}, string(b), perfect).Int64()
	if err != nil {
		return wrap("insert completion", err)
	}
	if n == 0 {
		return fmt.Errorf("completion %s/%s: %w", c.UserID, c.LessonID, core.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) CountPerfectQuizzes(ctx context.Context, user core.UserID) (int64, error) {
	n, err := s.client.Get(ctx, perfectKey(user)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, wrap("count perfect quizzes", err)
}

type progressHash struct {
	UserID           string `redis:"user_id"`
	CourseID         string `redis:"course_id"`
	LessonsCompleted int    `redis:"lessons_completed"`
	Percentage       int    `redis:"percentage"`
	CurrentLessonID  string `redis:"current_lesson_id"`
	EnrolledAt       int64  `redis:"enrolled_at"`
	CompletedAt      int64  `redis:"completed_at"`
	UpdatedAt        int64  `redis:"updated_at"`
}

func (h progressHash) progress() core.CourseProgress {
	p := core.CourseProgress{
		UserID:           core.UserID(h.UserID),
		CourseID:         core.CourseID(h.CourseID),
		LessonsCompleted: h.LessonsCompleted,
		Percentage:       h.Percentage,
		CurrentLessonID:  core.LessonID(h.CurrentLessonID),
		EnrolledAt:       fromNanos(h.EnrolledAt),
		Updated:          fromNanos(h.UpdatedAt),
	}
	if h.CompletedAt != 0 {
		t := fromNanos(h.CompletedAt)
		p.CompletedAt = &t
	}
	return p
}

func progressArgs(p core.CourseProgress) []any {
	var completed int64
	if p.CompletedAt != nil {
		completed = toNanos(*p.CompletedAt)
	}
	return []any{
		"user_id", string(p.UserID),
		"course_id", string(p.CourseID),
		"lessons_completed", p.LessonsCompleted,
		"percentage", p.Percentage,
		"current_lesson_id", string(p.CurrentLessonID),
		"enrolled_at", toNanos(p.EnrolledAt),
		"completed_at", completed,
		"updated_at", toNanos(p.Updated),
	}
}

func (s *Store) GetProgress(ctx context.Context, user core.UserID, course core.CourseID) (core.CourseProgress, error) {
	var h progressHash
	if err := s.scanHash(ctx, progressKey(user, course), &h); err != nil {
		return core.CourseProgress{}, fmt.Errorf("progress %s/%s: %w", user, course, err)
	}
	return h.progress(), nil
}

func (s *Store) CreateProgress(ctx context.Context, p core.CourseProgress) error {
	n, err := createHashScript.Run(ctx, s.client, []string{progressKey(p.UserID, p.CourseID)}, progressArgs(p)...).Int64()
	if err != nil {
		return wrap("create progress", err)
	}
	if n == 0 {
		return fmt.Errorf("progress %s/%s: %w", p.UserID, p.CourseID, core.ErrAlreadyExists)
	}
	return nil
}

// AdvanceProgress runs core.ApplyLessonCompletion inside a WATCH/MULTI
// transaction, retrying when another writer touched the record.
func (s *Store) AdvanceProgress(ctx context.Context, user core.UserID, course core.CourseID, lesson core.LessonID, totalLessons int, at time.Time) (core.ProgressChange, error) {
	key := progressKey(user, course)
	var change core.ProgressChange
	txf := func(tx *redis.Tx) error {
		var h progressHash
		if err := scanHashWith(ctx, tx, key, &h); err != nil {
			return err
		}
		before := h.progress()
		after, err := core.ApplyLessonCompletion(before, lesson, totalLessons, at)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, progressArgs(after)...)
			return nil
		})
		if err == nil {
			change = core.ProgressChange{Before: before, After: after}
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return core.ProgressChange{}, fmt.Errorf("advance progress %s/%s: %w", user, course, wrap("tx", err))
		}
		return change, nil
	}
	return core.ProgressChange{}, fmt.Errorf("advance progress %s/%s: %w", user, course, core.Transient(errors.New("too much contention")))
}

// achievementDoc keeps criteria raw so one malformed definition does not
// fail the listing.
type achievementDoc struct {
	ID          core.AchievementID `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Criteria    json.RawMessage    `json:"criteria"`
	XPReward    int64              `json:"xp_reward"`
	Rarity      core.Rarity        `json:"rarity"`
	Active      bool               `json:"active"`
}

// PutAchievement stores a badge definition. Seeding only.
func (s *Store) PutAchievement(ctx context.Context, a core.Achievement) error {
	crit, err := json.Marshal(a.Criteria)
	if err != nil {
		return err
	}
	b, err := json.Marshal(achievementDoc{ID: a.ID, Name: a.Name, Description: a.Description, Criteria: crit, XPReward: a.XPReward, Rarity: a.Rarity, Active: a.Active})
	if err != nil {
		return err
	}
	return wrap("put achievement", s.client.HSet(ctx, achievementsKey, string(a.ID), b).Err())
}

func (s *Store) ListAchievements(ctx context.Context, activeOnly bool) ([]core.Achievement, error) {
	var defs, earned *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		defs = p.HGetAll(ctx, achievementsKey)
		earned = p.HGetAll(ctx, earnedKey)
		return nil
	})
	if err != nil {
		return nil, wrap("list achievements", err)
	}
	counts := make(map[string]int64, len(earned.Val()))
	for id, v := range earned.Val() {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode earned count %s: %w", id, err)
		}
		counts[id] = n
	}
	out := make([]core.Achievement, 0, len(defs.Val()))
	for id, raw := range defs.Val() {
		var d achievementDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode achievement %s: %w", id, err)
		}
		if activeOnly && !d.Active {
			continue
		}
		a := core.Achievement{
			ID: d.ID, Name: d.Name, Description: d.Description,
			Criteria: core.LenientCriterion(d.Criteria),
			XPReward: d.XPReward, Rarity: d.Rarity, Active: d.Active,
		}
		a.EarnedCount = counts[id]
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetUserAchievement(ctx context.Context, user core.UserID, id core.AchievementID) (core.UserAchievement, error) {
	var ua core.UserAchievement
	if err := s.getJSON(ctx, userAchievementKey(user, id), &ua); err != nil {
		return core.UserAchievement{}, fmt.Errorf("user achievement %s/%s: %w", user, id, err)
	}
	return ua, nil
}

func (s *Store) InsertUserAchievement(ctx context.Context, ua core.UserAchievement) error {
	b, err := json.Marshal(ua)
	if err != nil {
		return err
	}
	keys := []string{userAchievementKey(ua.UserID, ua.AchievementID), userBadgesKey(ua.UserID)}
	n, err := insertIndexedScript.Run(ctx, s.client, keys, b, string(ua.AchievementID)).Int64()
	if err != nil {
		return wrap("insert user achievement", err)
	}
	if n == 0 {
		return fmt.Errorf("user achievement %s/%s: %w", ua.UserID, ua.AchievementID, core.ErrAlreadyExists)
	}
	return nil
}

// UserAchievements lists the user's earned badges, oldest first.
func (s *Store) UserAchievements(ctx context.Context, user core.UserID) ([]core.UserAchievement, error) {
	ids, err := s.client.SMembers(ctx, userBadgesKey(user)).Result()
	if err != nil {
		return nil, wrap("list user achievements", err)
	}
	if len(ids) == 0 {
		return []core.UserAchievement{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userAchievementKey(user, core.AchievementID(id))
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("list user achievements", err)
	}
	out := make([]core.UserAchievement, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var ua core.UserAchievement
		if err := json.Unmarshal([]byte(str), &ua); err != nil {
			return nil, fmt.Errorf("decode user achievement %s: %w", ids[i], err)
		}
		out = append(out, ua)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].AchievementID < out[j].AchievementID
		}
		return out[i].EarnedAt.Before(out[j].EarnedAt)
	})
	return out, nil
}

func (s *Store) IncrementEarnedCount(ctx context.Context, id core.AchievementID) error {
	return wrap("increment earned count", s.client.HIncrBy(ctx, earnedKey, string(id), 1).Err())
}
