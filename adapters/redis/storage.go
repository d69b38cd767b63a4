package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"learnkit/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"LEARNKIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"LEARNKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"LEARNKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"LEARNKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"LEARNKIT_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"LEARNKIT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"LEARNKIT_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"LEARNKIT_REDIS_WRITE_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
//   - lk:users -> set of user ids
//   - lk:user:{id} -> hash of the user aggregate
//   - lk:course:{id}, lk:lesson:{id} -> catalog hashes
//   - lk:completion:{user}:{lesson} -> JSON completion, written with SET NX
//   - lk:user:{id}:perfect -> count of perfect quiz completions
//   - lk:progress:{user}:{course} -> hash of the course progress
//   - lk:achievements -> hash of id to JSON definition; lk:achievements:earned -> earned counts
//   - lk:user_achievement:{user}:{id} -> JSON award, written with SET NX
//   - lk:xp:all -> sorted set of all-time totals
//   - lk:xp:day:{yyyymmdd} -> sorted set of XP earned that UTC day
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", core.Transient(err))
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

const (
	usersKey        = "lk:users"
	achievementsKey = "lk:achievements"
	earnedKey       = "lk:achievements:earned"
	allTimeKey      = "lk:xp:all"
	dayBucketTTL    = 32 * 24 * time.Hour
)

func userKey(id core.UserID) string              { return "lk:user:" + string(id) }
func perfectKey(id core.UserID) string           { return "lk:user:" + string(id) + ":perfect" }
func courseKey(id core.CourseID) string          { return "lk:course:" + string(id) }
func lessonKey(id core.LessonID) string          { return "lk:lesson:" + string(id) }
func dayKey(t time.Time) string                  { return "lk:xp:day:" + t.UTC().Format("20060102") }
func completionKey(u core.UserID, l core.LessonID) string {
	return fmt.Sprintf("lk:completion:%s:%s", u, l)
}
func progressKey(u core.UserID, c core.CourseID) string {
	return fmt.Sprintf("lk:progress:%s:%s", u, c)
}
func userBadgesKey(u core.UserID) string { return "lk:user:" + string(u) + ":badges" }
func userAchievementKey(u core.UserID, a core.AchievementID) string {
	return fmt.Sprintf("lk:user_achievement:%s:%s", u, a)
}

// wrap maps go-redis errors onto the core sentinels.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) || strings.Contains(err.Error(), "NOTFOUND") {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w", op, core.Transient(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// userHash is the hash layout of lk:user:{id}; times are unix nanoseconds.
type userHash struct {
	ID               string `redis:"id"`
	TotalXP          int64  `redis:"total_xp"`
	Level            int64  `redis:"level"`
	LessonsCompleted int64  `redis:"lessons_completed"`
	CoursesCompleted int64  `redis:"courses_completed"`
	BadgesEarned     int64  `redis:"badges_earned"`
	CurrentStreak    int64  `redis:"current_streak"`
	LongestStreak    int64  `redis:"longest_streak"`
	LastActiveAt     int64  `redis:"last_active_at"`
	CreatedAt        int64  `redis:"created_at"`
	UpdatedAt        int64  `redis:"updated_at"`
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (h userHash) user() core.User {
	return core.User{
		ID:               core.UserID(h.ID),
		TotalXP:          h.TotalXP,
		Level:            h.Level,
		LessonsCompleted: h.LessonsCompleted,
		CoursesCompleted: h.CoursesCompleted,
		BadgesEarned:     h.BadgesEarned,
		CurrentStreak:    h.CurrentStreak,
		LongestStreak:    h.LongestStreak,
		LastActiveAt:     fromNanos(h.LastActiveAt),
		CreatedAt:        fromNanos(h.CreatedAt),
		Updated:          fromNanos(h.UpdatedAt),
	}
}

func userArgs(u core.User) []any {
	return []any{
		"id", string(u.ID),
		"total_xp", u.TotalXP,
		"level", u.Level,
		"lessons_completed", u.LessonsCompleted,
		"courses_completed", u.CoursesCompleted,
		"badges_earned", u.BadgesEarned,
		"current_streak", u.CurrentStreak,
		"longest_streak", u.LongestStreak,
		"last_active_at", toNanos(u.LastActiveAt),
		"created_at", toNanos(u.CreatedAt),
		"updated_at", toNanos(u.Updated),
	}
}

func (s *Store) EnsureUser(ctx context.Context, user core.UserID) (core.User, error) {
	u := core.NewUser(user, s.now())
	if err := ensureUserScript.Run(ctx, s.client, []string{userKey(user), usersKey}, userArgs(u)...).Err(); err != nil {
		return core.User{}, wrap("ensure user", err)
	}
	return s.GetUser(ctx, user)
}

func (s *Store) GetUser(ctx context.Context, user core.UserID) (core.User, error) {
	cmd := s.client.HGetAll(ctx, userKey(user))
	if err := cmd.Err(); err != nil {
		return core.User{}, wrap("get user", err)
	}
	if len(cmd.Val()) == 0 {
		return core.User{}, fmt.Errorf("user %s: %w", user, core.ErrNotFound)
	}
	var h userHash
	if err := cmd.Scan(&h); err != nil {
		return core.User{}, fmt.Errorf("decode user %s: %w", user, err)
	}
	return h.user(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]core.User, error) {
	ids, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, wrap("list users", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, userKey(core.UserID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list users", err)
	}
	out := make([]core.User, 0, len(ids))
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		var h userHash
		if err := cmd.Scan(&h); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, h.user())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddXP increments total_xp with HINCRBY inside a script that also keeps the
// all-time sorted set in step.
func (s *Store) AddXP(ctx context.Context, user core.UserID, delta int64) (int64, error) {
	total, err := addXPScript.Run(ctx, s.client, []string{userKey(user), allTimeKey}, delta, s.now().UnixNano(), string(user)).Int64()
	if err != nil {
		return 0, wrap("add xp", err)
	}
	return total, nil
}

func (s *Store) SetXP(ctx context.Context, user core.UserID, total int64) error {
	if err := s.setFields(ctx, user, "total_xp", total); err != nil {
		return err
	}
	return wrap("set xp rank", s.client.ZAdd(ctx, allTimeKey, redis.Z{Score: float64(total), Member: string(user)}).Err())
}

func (s *Store) SetLevel(ctx context.Context, user core.UserID, level int64) error {
	return s.setFields(ctx, user, "level", level)
}

func (s *Store) SetStreak(ctx context.Context, user core.UserID, st core.Streak) error {
	return s.setFields(ctx, user,
		"current_streak", st.Current,
		"longest_streak", st.Longest,
		"last_active_at", toNanos(st.LastActiveAt))
}

func (s *Store) IncrementCounter(ctx context.Context, user core.UserID, c core.Counter, delta int64) (int64, error) {
	n, err := incrFieldScript.Run(ctx, s.client, []string{userKey(user)}, string(c), delta, s.now().UnixNano()).Int64()
	if err != nil {
		return 0, wrap("increment "+string(c), err)
	}
	return n, nil
}

// setFields writes fields of an existing user hash.
func (s *Store) setFields(ctx context.Context, user core.UserID, kv ...any) error {
	args := append(kv, "updated_at", s.now().UnixNano())
	return wrap("update user", setExistingScript.Run(ctx, s.client, []string{userKey(user)}, args...).Err())
}
