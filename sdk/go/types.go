package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"learnkit/core"
)

// UserProgress mirrors GET /users/{id}.
type UserProgress struct {
	User  core.User          `json:"user"`
	Level core.LevelSnapshot `json:"level"`
}

// AwardedBadge is one badge granted by a completion or a badge pass.
type AwardedBadge struct {
	BadgeID   string    `json:"badge_id"`
	BadgeName string    `json:"badge_name"`
	XPEarned  int64     `json:"xp_earned"`
	Rarity    string    `json:"rarity,omitempty"`
	EarnedAt  time.Time `json:"earned_at"`
}

// CompletionResult mirrors the lesson completion response. A rejected attempt
// has Success=false and a Reason.
type CompletionResult struct {
	Success          bool           `json:"success"`
	XPEarned         int64          `json:"xp_earned"`
	NewLevel         int64          `json:"new_level"`
	CourseComplete   bool           `json:"course_complete"`
	AlreadyCompleted bool           `json:"already_completed,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Error            string         `json:"error,omitempty"`
	Badges           []AwardedBadge `json:"badges,omitempty"`
}

// LeaderboardEntry is one row of GET /leaderboard.
type LeaderboardEntry struct {
	UserID string `json:"user_id"`
	Score  int64  `json:"score"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is the error body returned for non-2xx responses.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
