package leaderboard

import "learnkit/core"

// Entry represents a user's all-time XP on the board.
type Entry struct {
	User  core.UserID `json:"user_id"`
	Score int64       `json:"score"`
}
