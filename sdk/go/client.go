package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"learnkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the learnkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Enroll enrolls a user in a course and returns the progress record.
func (c *Client) Enroll(ctx context.Context, userID, courseID string) (core.CourseProgress, error) {
	var p core.CourseProgress
	if strings.TrimSpace(userID) == "" {
		return p, ErrEmptyUserID
	}
	err := c.do(ctx, http.MethodPost, c.userPath(userID, "courses", courseID, "enroll"), nil, &p)
	return p, err
}

// CompleteLessonInput is the body of a lesson completion.
type CompleteLessonInput struct {
	CourseID         string `json:"course_id"`
	Score            *int   `json:"score,omitempty"`
	TimeSpentSeconds int    `json:"time_spent_seconds,omitempty"`
}

// CompleteLesson records a lesson completion. Rejections (quiz not passed,
// not enrolled, unknown lesson) come back as a result with Success=false and
// a nil error; only transport and server failures are errors.
func (c *Client) CompleteLesson(ctx context.Context, userID, lessonID string, in CompleteLessonInput) (CompletionResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CompletionResult{}, ErrEmptyUserID
	}
	body, err := json.Marshal(in)
	if err != nil {
		return CompletionResult{}, err
	}
	resp, err := c.send(ctx, http.MethodPost, c.userPath(userID, "lessons", lessonID, "complete"), body)
	if err != nil {
		return CompletionResult{}, err
	}
	defer resp.Body.Close()

	var res CompletionResult
	if resp.StatusCode >= http.StatusInternalServerError {
		_ = json.NewDecoder(resp.Body).Decode(&res)
		return res, &APIError{StatusCode: resp.StatusCode, Code: res.Reason, Message: res.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return CompletionResult{}, fmt.Errorf("decode completion: %w", err)
	}
	return res, nil
}

// CheckBadges runs a badge pass for the user and returns newly earned badges.
func (c *Client) CheckBadges(ctx context.Context, userID string) ([]AwardedBadge, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var body struct {
		Badges []AwardedBadge `json:"badges"`
	}
	if err := c.do(ctx, http.MethodPost, c.userPath(userID, "badges", "check"), nil, &body); err != nil {
		return nil, err
	}
	return body.Badges, nil
}

// Badges lists every badge the user holds, oldest first.
func (c *Client) Badges(ctx context.Context, userID string) ([]AwardedBadge, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var body struct {
		Badges []AwardedBadge `json:"badges"`
	}
	if err := c.do(ctx, http.MethodGet, c.userPath(userID, "badges"), nil, &body); err != nil {
		return nil, err
	}
	return body.Badges, nil
}

// GetUser fetches the user's aggregate and level position.
func (c *Client) GetUser(ctx context.Context, userID string) (UserProgress, error) {
	var p UserProgress
	if strings.TrimSpace(userID) == "" {
		return p, ErrEmptyUserID
	}
	err := c.do(ctx, http.MethodGet, c.userPath(userID), nil, &p)
	return p, err
}

// GetCourseProgress fetches the user's progress in one course.
func (c *Client) GetCourseProgress(ctx context.Context, userID, courseID string) (core.CourseProgress, error) {
	var p core.CourseProgress
	if strings.TrimSpace(userID) == "" {
		return p, ErrEmptyUserID
	}
	err := c.do(ctx, http.MethodGet, c.userPath(userID, "courses", courseID), nil, &p)
	return p, err
}

// GetRank returns the user's rank for timeframe (all_time, weekly, monthly).
func (c *Client) GetRank(ctx context.Context, userID string, timeframe core.Timeframe) (core.UserRank, error) {
	var r core.UserRank
	if strings.TrimSpace(userID) == "" {
		return r, ErrEmptyUserID
	}
	path := c.userPath(userID, "rank")
	if timeframe != "" {
		path += "?timeframe=" + url.QueryEscape(string(timeframe))
	}
	err := c.do(ctx, http.MethodGet, path, nil, &r)
	return r, err
}

// Leaderboard returns the top limit users by all-time XP.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	path := c.baseURL + "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	resp, err := c.send(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	// an unhealthy server still answers with a status body
	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, fmt.Errorf("decode health: %w", err)
	}
	return hs, nil
}

// SubscribeOptions narrows the event stream.
type SubscribeOptions struct {
	UserID string
	Types  []core.EventType
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, opts ...SubscribeOptions) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if len(opts) > 0 {
		q := url.Values{}
		if opts[0].UserID != "" {
			q.Set("user", opts[0].UserID)
		}
		if len(opts[0].Types) > 0 {
			types := make([]string, len(opts[0].Types))
			for i, t := range opts[0].Types {
				types[i] = string(t)
			}
			q.Set("types", strings.Join(types, ","))
		}
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	// unblock ReadJSON when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	out := make(chan core.Event, 32)
	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) userPath(userID string, parts ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/users/")
	b.WriteString(url.PathEscape(userID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *Client) send(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	var req *http.Request
	var err error
	if rd != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, rd)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)
	return c.httpClient.Do(req)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	resp, err := c.send(ctx, method, target, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
