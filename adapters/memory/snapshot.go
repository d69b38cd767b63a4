package memory

import "learnkit/core"

// Snapshot is the full store contents in a serializable form.
type Snapshot struct {
	Users            []core.User            `json:"users"`
	Courses          []core.Course          `json:"courses"`
	Lessons          []core.Lesson          `json:"lessons"`
	Completions      []core.Completion      `json:"completions"`
	Progress         []core.CourseProgress  `json:"progress"`
	Achievements     []core.Achievement     `json:"achievements"`
	UserAchievements []core.UserAchievement `json:"user_achievements"`
	Ledger           []core.XPEvent         `json:"ledger"`
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Ledger: append([]core.XPEvent(nil), s.ledger...)}
	for _, v := range s.users {
		snap.Users = append(snap.Users, v)
	}
	for _, v := range s.courses {
		snap.Courses = append(snap.Courses, v)
	}
	for _, v := range s.lessons {
		snap.Lessons = append(snap.Lessons, v)
	}
	for _, v := range s.completions {
		snap.Completions = append(snap.Completions, v)
	}
	for _, v := range s.progress {
		snap.Progress = append(snap.Progress, v)
	}
	for _, v := range s.achievements {
		snap.Achievements = append(snap.Achievements, v)
	}
	for _, v := range s.userAchievements {
		snap.UserAchievements = append(snap.UserAchievements, v)
	}
	return snap
}

// Snapshot copies the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Restore replaces the contents with snap without running the persist hook.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[core.UserID]core.User, len(snap.Users))
	for _, v := range snap.Users {
		s.users[v.ID] = v
	}
	s.courses = make(map[core.CourseID]core.Course, len(snap.Courses))
	for _, v := range snap.Courses {
		s.courses[v.ID] = v
	}
	s.lessons = make(map[core.LessonID]core.Lesson, len(snap.Lessons))
	for _, v := range snap.Lessons {
		s.lessons[v.ID] = v
	}
	s.completions = make(map[completionKey]core.Completion, len(snap.Completions))
	for _, v := range snap.Completions {
		s.completions[completionKey{v.UserID, v.LessonID}] = v
	}
	s.progress = make(map[progressKey]core.CourseProgress, len(snap.Progress))
	for _, v := range snap.Progress {
		s.progress[progressKey{v.UserID, v.CourseID}] = v
	}
	s.achievements = make(map[core.AchievementID]core.Achievement, len(snap.Achievements))
	for _, v := range snap.Achievements {
		s.achievements[v.ID] = v
	}
	s.userAchievements = make(map[badgeKey]core.UserAchievement, len(snap.UserAchievements))
	for _, v := range snap.UserAchievements {
		s.userAchievements[badgeKey{v.UserID, v.AchievementID}] = v
	}
	s.ledger = append([]core.XPEvent(nil), snap.Ledger...)
}
