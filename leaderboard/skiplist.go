package leaderboard

import (
	"math/rand/v2"
	"sync"

	"learnkit/core"
)

// SkipList is an indexable skip list ordered by (score desc, user asc).
// Every forward pointer records how many entries it jumps over, so position
// lookups and "how many users are above me" are O(log n) like updates.
// Only positive scores are kept; a user with no XP is not on the board.
type SkipList struct {
	mu     sync.RWMutex
	head   *node
	lvl    int
	length int
	byUser map[core.UserID]*node
}

const (
	maxLevel = 16
	pFactor  = 0.25
)

type node struct {
	e    Entry
	next [maxLevel]*node
	span [maxLevel]int
}

func NewSkipList() *SkipList {
	return &SkipList{head: &node{}, lvl: 1, byUser: map[core.UserID]*node{}}
}

func randomLevel() int {
	lvl := 1
	for lvl < maxLevel && rand.Float64() < pFactor {
		lvl++
	}
	return lvl
}

// ahead reports whether a sorts before b.
func ahead(a, b Entry) bool {
	if a.Score == b.Score {
		return a.User < b.User
	}
	return a.Score > b.Score
}

// seek walks to the last node sorting before e. It fills prev with the
// predecessor at every level and returns how many entries precede e.
func (s *SkipList) seek(e Entry, prev *[maxLevel]*node, rank *[maxLevel]int) int {
	cur := s.head
	traversed := 0
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && ahead(cur.next[i].e, e) {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
		if prev != nil {
			prev[i] = cur
		}
		if rank != nil {
			rank[i] = traversed
		}
	}
	return traversed
}

// Update inserts or moves user to new score. Non-positive scores remove the user.
func (s *SkipList) Update(user core.UserID, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(user, score)
}

func (s *SkipList) updateLocked(user core.UserID, score int64) {
	if old, ok := s.byUser[user]; ok {
		if old.e.Score == score {
			return
		}
		s.removeLocked(old.e)
	}
	if score <= 0 {
		return
	}

	e := Entry{User: user, Score: score}
	var prev [maxLevel]*node
	var rank [maxLevel]int
	s.seek(e, &prev, &rank)

	lvl := randomLevel()
	for i := s.lvl; i < lvl; i++ {
		prev[i] = s.head
		rank[i] = 0
		s.head.span[i] = s.length
	}
	s.lvl = max(s.lvl, lvl)

	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = prev[i].next[i]
		prev[i].next[i] = n
		// rank[0]-rank[i] entries sit between prev[i] and the new node
		n.span[i] = prev[i].span[i] - (rank[0] - rank[i])
		prev[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		prev[i].span[i]++
	}
	s.length++
	s.byUser[user] = n
}

func (s *SkipList) removeLocked(e Entry) {
	var prev [maxLevel]*node
	s.seek(e, &prev, nil)
	target := prev[0].next[0]
	if target == nil || target.e != e {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if prev[i].next[i] == target {
			prev[i].span[i] += target.span[i] - 1
			prev[i].next[i] = target.next[i]
		} else {
			prev[i].span[i]--
		}
	}
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
	s.length--
	delete(s.byUser, e.User)
}

// TopN returns the first n entries.
func (s *SkipList) TopN(n int) []Entry { return s.Page(0, n) }

// Page returns up to limit entries starting at the zero-based offset.
func (s *SkipList) Page(offset, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || offset < 0 || offset >= s.length {
		return nil
	}
	cur := s.nodeAt(offset + 1)
	out := make([]Entry, 0, min(limit, s.length-offset))
	for ; cur != nil && len(out) < limit; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

// nodeAt returns the entry at the 1-based position pos.
func (s *SkipList) nodeAt(pos int) *node {
	cur := s.head
	traversed := 0
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && traversed+cur.span[i] <= pos {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
		if traversed == pos {
			return cur
		}
	}
	return nil
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byUser[user]; ok {
		return n.e, true
	}
	return Entry{}, false
}

// Raise moves user up to score unless the board already holds a higher one.
func (s *SkipList) Raise(user core.UserID, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; !ok || n.e.Score < score {
		s.updateLocked(user, score)
	}
}

// Standing counts the users strictly above user. Users tied on score share a rank.
func (s *SkipList) Standing(user core.UserID) (core.Standing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[user]
	if !ok {
		return core.Standing{}, false
	}
	// the empty user id sorts before every real one at the same score
	var prev [maxLevel]*node
	above := s.seek(Entry{Score: n.e.Score}, &prev, nil)
	st := core.Standing{Score: n.e.Score, Above: int64(above), TotalUsers: int64(s.length)}
	if above > 0 {
		st.NextScore = prev[0].e.Score
	}
	return st, true
}

// Len returns the number of ranked users.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}
