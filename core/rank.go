package core

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe selects the window a rank is computed over.
type Timeframe string

const (
	TimeframeAllTime Timeframe = "all_time"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
)

// ParseTimeframe accepts the canonical names plus a few common aliases.
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all_time", "all-time", "alltime", "all":
		return TimeframeAllTime, nil
	case "weekly", "week":
		return TimeframeWeekly, nil
	case "monthly", "month":
		return TimeframeMonthly, nil
	}
	return "", fmt.Errorf("unknown timeframe %q: %w", s, ErrInvalidInput)
}

// Since returns the start of the window ending at now; zero for all-time.
func (t Timeframe) Since(now time.Time) time.Time {
	switch t {
	case TimeframeWeekly:
		return now.Add(-7 * 24 * time.Hour)
	case TimeframeMonthly:
		return now.Add(-30 * 24 * time.Hour)
	}
	return time.Time{}
}

// Standing is a user's position among ranked users for some score.
// Above counts users with a strictly higher score; NextScore is the lowest
// of those scores (0 when Above is 0).
type Standing struct {
	Score      int64 `json:"score"`
	Above      int64 `json:"above"`
	TotalUsers int64 `json:"total_users"`
	NextScore  int64 `json:"next_score"`
}

// UserRank is the public rank result.
type UserRank struct {
	UserID       UserID    `json:"user_id"`
	Timeframe    Timeframe `json:"timeframe"`
	Rank         int64     `json:"rank"`
	TotalUsers   int64     `json:"total_users"`
	Percentile   float64   `json:"percentile"`
	XP           int64     `json:"xp"`
	XPToNextRank int64     `json:"xp_to_next_rank"`
}

// Unranked is the neutral result for users without XP.
func Unranked(user UserID, tf Timeframe, totalUsers int64) UserRank {
	return UserRank{UserID: user, Timeframe: tf, TotalUsers: totalUsers}
}

// RankFromStanding turns a standing into a rank: rank = above + 1,
// percentile = (1 - rank/total) * 100, and the XP gap to pass the next user.
func RankFromStanding(user UserID, tf Timeframe, s Standing) UserRank {
	if s.Score <= 0 {
		return Unranked(user, tf, s.TotalUsers)
	}
	total := max(s.TotalUsers, s.Above+1)
	r := UserRank{
		UserID:     user,
		Timeframe:  tf,
		Rank:       s.Above + 1,
		TotalUsers: total,
		XP:         s.Score,
		Percentile: Percentile(s.Above+1, total),
	}
	if s.Above > 0 && s.NextScore > s.Score {
		r.XPToNextRank = s.NextScore - s.Score + 1
	}
	return r
}

// Percentile computes (1 - rank/totalUsers) * 100, or 0 when unranked.
func Percentile(rank, totalUsers int64) float64 {
	if rank <= 0 || totalUsers <= 0 {
		return 0
	}
	return (1 - float64(rank)/float64(totalUsers)) * 100
}
