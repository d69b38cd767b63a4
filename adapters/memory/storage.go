package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"learnkit/core"
)

type completionKey struct {
	user   core.UserID
	lesson core.LessonID
}

type progressKey struct {
	user   core.UserID
	course core.CourseID
}

type badgeKey struct {
	user  core.UserID
	badge core.AchievementID
}

// Store is a concurrent in-memory storage implementation. It enforces the
// same uniqueness rules a database would and is the fake used by tests.
type Store struct {
	mu               sync.RWMutex
	users            map[core.UserID]core.User
	courses          map[core.CourseID]core.Course
	lessons          map[core.LessonID]core.Lesson
	completions      map[completionKey]core.Completion
	progress         map[progressKey]core.CourseProgress
	achievements     map[core.AchievementID]core.Achievement
	userAchievements map[badgeKey]core.UserAchievement
	ledger           []core.XPEvent

	atomicAdd bool
	now       func() time.Time
	persist   func(Snapshot) error
}

// Option configures a Store.
type Option func(*Store)

// WithoutAtomicAdd makes AddXP report core.ErrAtomicUnavailable.
func WithoutAtomicAdd() Option { return func(s *Store) { s.atomicAdd = false } }

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithPersist registers a hook receiving a snapshot after every mutation.
// A hook error is returned from the mutating call.
func WithPersist(fn func(Snapshot) error) Option { return func(s *Store) { s.persist = fn } }

func New(opts ...Option) *Store {
	s := &Store{
		users:            map[core.UserID]core.User{},
		courses:          map[core.CourseID]core.Course{},
		lessons:          map[core.LessonID]core.Lesson{},
		completions:      map[completionKey]core.Completion{},
		progress:         map[progressKey]core.CourseProgress{},
		achievements:     map[core.AchievementID]core.Achievement{},
		userAchievements: map[badgeKey]core.UserAchievement{},
		atomicAdd:        true,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// changed runs the persist hook; callers hold the write lock.
func (s *Store) changed() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.snapshotLocked())
}

// PutCourse stores catalog data. Seeding only.
func (s *Store) PutCourse(c core.Course, lessons ...core.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = c
	for _, l := range lessons {
		if l.CourseID == "" {
			l.CourseID = c.ID
		}
		s.lessons[l.ID] = l
	}
	return s.changed()
}

// PutAchievement stores a badge definition. Seeding only.
func (s *Store) PutAchievement(a core.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.achievements[a.ID] = a
	return s.changed()
}

func (s *Store) EnsureUser(_ context.Context, user core.UserID) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[user]; ok {
		return u, nil
	}
	u := core.NewUser(user, s.now())
	s.users[user] = u
	return u, s.changed()
}

func (s *Store) GetUser(_ context.Context, user core.UserID) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", user, core.ErrNotFound)
	}
	return u, nil
}

func (s *Store) ListUsers(context.Context) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// update applies fn to an existing user under the write lock.
func (s *Store) update(user core.UserID, fn func(*core.User) error) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", user, core.ErrNotFound)
	}
	if err := fn(&u); err != nil {
		return core.User{}, err
	}
	u.Updated = s.now()
	s.users[user] = u
	return u, s.changed()
}

func (s *Store) AddXP(_ context.Context, user core.UserID, delta int64) (int64, error) {
	if !s.atomicAdd {
		return 0, core.ErrAtomicUnavailable
	}
	u, err := s.update(user, func(u *core.User) error {
		next, err := core.AddSafe(u.TotalXP, delta)
		if err != nil {
			return err
		}
		u.TotalXP = next
		return nil
	})
	return u.TotalXP, err
}

func (s *Store) SetXP(_ context.Context, user core.UserID, total int64) error {
	_, err := s.update(user, func(u *core.User) error { u.TotalXP = total; return nil })
	return err
}

func (s *Store) SetLevel(_ context.Context, user core.UserID, level int64) error {
	_, err := s.update(user, func(u *core.User) error { u.Level = level; return nil })
	return err
}

func (s *Store) IncrementCounter(_ context.Context, user core.UserID, c core.Counter, delta int64) (int64, error) {
	u, err := s.update(user, func(u *core.User) error {
		next, err := core.AddSafe(u.Counter(c), delta)
		if err != nil {
			return err
		}
		*u = u.WithCounter(c, next)
		return nil
	})
	return u.Counter(c), err
}

func (s *Store) SetStreak(_ context.Context, user core.UserID, st core.Streak) error {
	_, err := s.update(user, func(u *core.User) error {
		u.CurrentStreak, u.LongestStreak, u.LastActiveAt = st.Current, st.Longest, st.LastActiveAt
		return nil
	})
	return err
}

func (s *Store) GetCourse(_ context.Context, course core.CourseID) (core.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[course]
	if !ok {
		return core.Course{}, fmt.Errorf("course %s: %w", course, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) GetLesson(_ context.Context, lesson core.LessonID) (core.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lessons[lesson]
	if !ok {
		return core.Lesson{}, fmt.Errorf("lesson %s: %w", lesson, core.ErrNotFound)
	}
	return l, nil
}

func (s *Store) GetCompletion(_ context.Context, user core.UserID, lesson core.LessonID) (core.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.completions[completionKey{user, lesson}]
	if !ok {
		return core.Completion{}, fmt.Errorf("completion %s/%s: %w", user, lesson, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) InsertCompletion(_ context.Context, c core.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := completionKey{c.UserID, c.LessonID}
	if _, ok := s.completions[k]; ok {
		return fmt.Errorf("completion %s/%s: %w", c.UserID, c.LessonID, core.ErrAlreadyExists)
	}
	s.completions[k] = c
	return s.changed()
}

func (s *Store) CountPerfectQuizzes(_ context.Context, user core.UserID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for k, c := range s.completions {
		if k.user == user && c.Perfect() {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetProgress(_ context.Context, user core.UserID, course core.CourseID) (core.CourseProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[progressKey{user, course}]
	if !ok {
		return core.CourseProgress{}, fmt.Errorf("progress %s/%s: %w", user, course, core.ErrNotFound)
	}
	return p, nil
}

func (s *Store) CreateProgress(_ context.Context, p core.CourseProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := progressKey{p.UserID, p.CourseID}
	if _, ok := s.progress[k]; ok {
		return fmt.Errorf("progress %s/%s: %w", p.UserID, p.CourseID, core.ErrAlreadyExists)
	}
	s.progress[k] = p
	return s.changed()
}

func (s *Store) AdvanceProgress(_ context.Context, user core.UserID, course core.CourseID, lesson core.LessonID, totalLessons int, at time.Time) (core.ProgressChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := progressKey{user, course}
	before, ok := s.progress[k]
	if !ok {
		return core.ProgressChange{}, fmt.Errorf("progress %s/%s: %w", user, course, core.ErrNotFound)
	}
	after, err := core.ApplyLessonCompletion(before, lesson, totalLessons, at)
	if err != nil {
		return core.ProgressChange{}, err
	}
	s.progress[k] = after
	return core.ProgressChange{Before: before, After: after}, s.changed()
}

func (s *Store) ListAchievements(_ context.Context, activeOnly bool) ([]core.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetUserAchievement(_ context.Context, user core.UserID, id core.AchievementID) (core.UserAchievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ua, ok := s.userAchievements[badgeKey{user, id}]
	if !ok {
		return core.UserAchievement{}, fmt.Errorf("user achievement %s/%s: %w", user, id, core.ErrNotFound)
	}
	return ua, nil
}

func (s *Store) InsertUserAchievement(_ context.Context, ua core.UserAchievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := badgeKey{ua.UserID, ua.AchievementID}
	if _, ok := s.userAchievements[k]; ok {
		return fmt.Errorf("user achievement %s/%s: %w", ua.UserID, ua.AchievementID, core.ErrAlreadyExists)
	}
	s.userAchievements[k] = ua
	return s.changed()
}

func (s *Store) IncrementEarnedCount(_ context.Context, id core.AchievementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.achievements[id]
	if !ok {
		return fmt.Errorf("achievement %s: %w", id, core.ErrNotFound)
	}
	a.EarnedCount++
	s.achievements[id] = a
	return s.changed()
}

// UserAchievements lists the badges a user holds, oldest first.
func (s *Store) UserAchievements(_ context.Context, user core.UserID) ([]core.UserAchievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.UserAchievement{}
	for k, ua := range s.userAchievements {
		if k.user == user {
			out = append(out, ua)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].AchievementID < out[j].AchievementID
		}
		return out[i].EarnedAt.Before(out[j].EarnedAt)
	})
	return out, nil
}

func (s *Store) AppendXPEvent(_ context.Context, ev core.XPEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, ev)
	return s.changed()
}

func (s *Store) Standing(_ context.Context, user core.UserID, since time.Time) (core.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scores := map[core.UserID]int64{}
	if since.IsZero() {
		for id, u := range s.users {
			scores[id] = u.TotalXP
		}
	} else {
		for _, ev := range s.ledger {
			if !ev.At.Before(since) {
				scores[ev.UserID] += ev.Amount
			}
		}
	}
	return standingOf(scores, user), nil
}

func standingOf(scores map[core.UserID]int64, user core.UserID) core.Standing {
	st := core.Standing{Score: scores[user]}
	for id, v := range scores {
		if v <= 0 {
			continue
		}
		st.TotalUsers++
		if id != user && v > st.Score {
			st.Above++
			if st.NextScore == 0 || v < st.NextScore {
				st.NextScore = v
			}
		}
	}
	return st
}
