package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "learnkit/adapters/memory"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/realtime"
)

func newTestService(t *testing.T) *engine.ProgressService {
	t.Helper()
	storage := mem.New()
	require.NoError(t, storage.PutCourse(core.Course{ID: "go-101", Title: "Go basics", TotalLessons: 2},
		core.Lesson{ID: "intro", Type: core.LessonText, Position: 1},
		core.Lesson{ID: "quiz", Type: core.LessonQuiz, Position: 2},
	))
	require.NoError(t, storage.PutAchievement(core.Achievement{
		ID: "first_steps", Name: "First Steps", Active: true, XPReward: 25, Rarity: core.RarityCommon,
		Criteria: core.Criterion{Kind: core.CriterionFirstLesson, Threshold: 1},
	}))
	bus := engine.NewEventBus(engine.DispatchSync)
	return engine.NewProgressService(storage, bus,
		engine.WithEnrollmentBackoff(engine.Backoff{Retries: 1, Base: time.Millisecond}))
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnrollCompleteAndRead(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})

	rec := do(t, handler, http.MethodPost, "/api/users/alice/courses/go-101/enroll", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, handler, http.MethodPost, "/api/users/alice/lessons/intro/complete", map[string]any{"course_id": "go-101"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res engine.CompletionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, int64(10), res.XPEarned)
	require.Len(t, res.Badges, 1)
	assert.Equal(t, core.AchievementID("first_steps"), res.Badges[0].BadgeID)

	rec = do(t, handler, http.MethodGet, "/api/users/ALICE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var up engine.UserProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, int64(35), up.User.TotalXP)

	rec = do(t, handler, http.MethodGet, "/api/users/alice/courses/go-101", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p core.CourseProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 50, p.Percentage)
}

func TestCompleteLessonStatuses(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{})
	require.Equal(t, http.StatusOK, do(t, handler, http.MethodPost, "/users/bob/courses/go-101/enroll", nil).Code)

	cases := []struct {
		name   string
		target string
		body   any
		status int
		reason core.Reason
	}{
		{"failed quiz", "/users/bob/lessons/quiz/complete", map[string]any{"course_id": "go-101", "score": 40}, http.StatusUnprocessableEntity, core.ReasonQuizNotPassed},
		{"unknown lesson", "/users/bob/lessons/nope/complete", map[string]any{"course_id": "go-101"}, http.StatusNotFound, core.ReasonNotFound},
		{"not enrolled", "/users/carol/lessons/intro/complete", map[string]any{"course_id": "go-101"}, http.StatusConflict, core.ReasonNotEnrolled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, handler, http.MethodPost, tc.target, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var res engine.CompletionResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.False(t, res.Success)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}

	rec := do(t, handler, http.MethodPost, "/users/bob/lessons/intro/complete", map[string]any{"course_id": "go-101", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrollUnknownCourse(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{})
	rec := do(t, handler, http.MethodPost, "/users/alice/courses/missing/enroll", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRankAndLeaderboard(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{})

	rec := do(t, handler, http.MethodGet, "/users/alice/rank", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rank core.UserRank
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rank))
	assert.Zero(t, rank.Rank)
	assert.Equal(t, core.TimeframeAllTime, rank.Timeframe)

	do(t, handler, http.MethodPost, "/users/alice/courses/go-101/enroll", nil)
	do(t, handler, http.MethodPost, "/users/alice/lessons/intro/complete", map[string]any{"course_id": "go-101"})

	rec = do(t, handler, http.MethodGet, "/users/alice/rank?timeframe=weekly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rank))
	assert.Equal(t, int64(1), rank.Rank)
	assert.Equal(t, core.TimeframeWeekly, rank.Timeframe)

	assert.Equal(t, http.StatusBadRequest, do(t, handler, http.MethodGet, "/users/alice/rank?timeframe=daily", nil).Code)

	rec = do(t, handler, http.MethodGet, "/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		Entries []struct {
			User  string `json:"user_id"`
			Score int64  `json:"score"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].User)

	assert.Equal(t, http.StatusBadRequest, do(t, handler, http.MethodGet, "/leaderboard?limit=0", nil).Code)
}

func TestBadgeCheckAndUnknownUser(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{})

	rec := do(t, handler, http.MethodPost, "/users/nobody/badges/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"badges":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/users/nobody", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodDelete, "/users/nobody", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, handler, http.MethodGet, "/users/%20", nil).Code)
}

func TestListBadges(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{})
	require.Equal(t, http.StatusOK, do(t, handler, http.MethodPost, "/users/alice/courses/go-101/enroll", nil).Code)
	require.Equal(t, http.StatusOK, do(t, handler, http.MethodPost, "/users/alice/lessons/intro/complete", map[string]any{"course_id": "go-101"}).Code)

	rec := do(t, handler, http.MethodGet, "/users/alice/badges", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Badges []engine.AwardedBadge `json:"badges"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Badges, 1)
	assert.Equal(t, core.AchievementID("first_steps"), body.Badges[0].BadgeID)
	assert.Equal(t, "First Steps", body.Badges[0].BadgeName)
	assert.Equal(t, int64(25), body.Badges[0].XPEarned)

	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/users/nobody/badges", nil).Code)
}

func TestHealthz(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{APIKeys: []string{"secret"}})
	rec := do(t, handler, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestAPIKeyAuth(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/alice/rank", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/users/alice/rank", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
}

func TestMountsShareAuth(t *testing.T) {
	reports := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("[]")) })
	handler := NewMux(newTestService(t), nil, Options{
		PathPrefix: "/api",
		APIKeys:    []string{"secret"},
		Mounts:     map[string]http.Handler{"/analytics": reports},
	})

	rec := do(t, handler, http.MethodGet, "/api/analytics", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/api/users/alice/rank", nil)
	req1.Header.Set("X-API-Key", "k")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/users/alice/rank", nil)
	req2.Header.Set("X-API-Key", "k")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}

func TestRateLimitKeysUnknownCredentialsByIP(t *testing.T) {
	handler := NewMux(newTestService(t), nil, Options{
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})
	withKey := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/users/alice/rank", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, withKey("guess-1"))
	// a fresh bogus key shares the caller's IP bucket
	assert.Equal(t, http.StatusTooManyRequests, withKey("guess-2"))
	assert.Equal(t, http.StatusOK, withKey("k"))
}

func TestLimiterSetSweepsIdleClients(t *testing.T) {
	set := newLimiterSet(1, 1, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	set.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		set.get(fmt.Sprintf("ip:10.0.%d.%d", i/256, i%256))
	}
	require.Equal(t, 1000, set.size())

	now = now.Add(30 * time.Second)
	set.get("ip:10.0.0.7")
	now = now.Add(30 * time.Second)
	set.get("ip:192.0.2.50")

	assert.Equal(t, 2, set.size())
}

// brokenStore fails user reads with an opaque driver error.
type brokenStore struct {
	*mem.Store
	err error
}

func (s brokenStore) GetUser(context.Context, core.UserID) (core.User, error) {
	return core.User{}, s.err
}

func TestStoreFailuresAreInternal(t *testing.T) {
	store := brokenStore{Store: mem.New(), err: errors.New("pq: permission denied for table users")}
	svc := engine.NewProgressService(store, engine.NewEventBus(engine.DispatchSync),
		engine.WithReadBackoff(engine.Backoff{}))
	handler := NewMux(svc, nil, Options{})

	for _, target := range []string{"/users/alice", "/users/alice/badges/check"} {
		method := http.MethodGet
		if target == "/users/alice/badges/check" {
			method = http.MethodPost
		}
		rec := do(t, handler, method, target, nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.JSONEq(t, `{"code":"internal","message":"internal error"}`, rec.Body.String(), target)
		assert.NotContains(t, rec.Body.String(), "pq:")
	}

	rec := do(t, handler, http.MethodGet, "/users/alice/courses/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")
}

func TestWebSocketThroughRequestLog(t *testing.T) {
	bus := engine.NewEventBus(engine.DispatchSync)
	hub := realtime.NewHub()
	hub.Attach(bus)
	svc := engine.NewProgressService(mem.New(), bus)

	srv := httptest.NewServer(WithRequestLog(NewMux(svc, hub, Options{}), slogDiscard()))
	defer srv.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+srv.URL[len("http"):]+"/ws?user=alice", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	bus.Publish(context.Background(), core.NewLevelUp("alice", 3))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev core.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, int64(3), ev.Level)
}

func slogDiscard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
