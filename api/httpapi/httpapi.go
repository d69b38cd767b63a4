package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	wsadapter "learnkit/adapters/websocket"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitIdle is how long an unused client limiter is kept (default 5m).
	RateLimitIdle time.Duration
	// Mounts adds extra read-only handlers under the prefix, behind the same
	// auth and rate limiting (e.g. "/analytics").
	Mounts map[string]http.Handler
}

const maxBodyBytes = 64 << 10

// completeBody is the JSON body of the lesson completion route.
type completeBody struct {
	CourseID         core.CourseID `json:"course_id"`
	Score            *int          `json:"score,omitempty"`
	TimeSpentSeconds int           `json:"time_spent_seconds,omitempty"`
}

// NewMux builds an http.Handler exposing the learning progress REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users/{id}/courses/{course}/enroll
//   - GET  {prefix}/users/{id}/courses/{course}
//   - POST {prefix}/users/{id}/lessons/{lesson}/complete   {"course_id":..,"score":..}
//   - POST {prefix}/users/{id}/badges/check
//   - GET  {prefix}/users/{id}/badges
//   - GET  {prefix}/users/{id}/rank?timeframe=all_time|weekly|monthly
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/leaderboard?limit=10
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws?user=..&types=..
func NewMux(svc *engine.ProgressService, hub *realtime.Hub, opts Options) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, svc)
	})

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	for path, h := range opts.Mounts {
		mux.Handle(withPrefix(opts.PathPrefix, path), h)
	}

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/leaderboard"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
			return
		}
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 1000 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000", nil)
				return
			}
			limit = n
		}
		entries, err := svc.Leaderboard(r.Context(), limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	// Users API
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/users/"), func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(opts.PathPrefix, "/"))
		parts := split(path, '/')
		if len(parts) < 2 {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		user, err := core.NormalizeUserID(core.UserID(parts[1]))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
			return
		}
		route := strings.Join(shape(parts[2:]), "/")
		switch {
		case r.Method == http.MethodGet && route == "":
			getUser(w, r, svc, user)
		case r.Method == http.MethodGet && route == "rank":
			getRank(w, r, svc, user)
		case r.Method == http.MethodGet && route == "courses/*":
			getCourseProgress(w, r, svc, user, core.CourseID(parts[3]))
		case r.Method == http.MethodPost && route == "courses/*/enroll":
			enroll(w, r, svc, user, core.CourseID(parts[3]))
		case r.Method == http.MethodPost && route == "lessons/*/complete":
			completeLesson(w, r, svc, user, core.LessonID(parts[3]))
		case r.Method == http.MethodPost && route == "badges/check":
			checkBadges(w, r, svc, user)
		case r.Method == http.MethodGet && route == "badges":
			listBadges(w, r, svc, user)
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		}
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	keys := newKeySet(opts.APIKeys)
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, keys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitIdle, keys)
	}
	return handler
}

// shape replaces path parameters with "*" so routes can be matched by position:
// courses/go-101/enroll becomes courses/*/enroll.
func shape(parts []string) []string {
	out := append([]string(nil), parts...)
	if len(out) >= 2 && (out[0] == "courses" || out[0] == "lessons") {
		out[1] = "*"
	}
	return out
}

func getUser(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService, user core.UserID) {
	p, err := svc.GetUserProgress(r.Context(), user)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, p)
}

func getRank(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService, user core.UserID) {
	tf, err := core.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_timeframe", err.Error(), nil)
		return
	}
	rank, err := svc.GetUserRank(r.Context(), user, tf)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, rank)
}

func getCourseProgress(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService, user core.UserID, course core.CourseID) {
	p, err := svc.GetCourseProgress(r.Context(), user, course)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, p)
}

func enroll(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService, user core.UserID, course core.CourseID) {
	if err := core.ValidateID("course", string(course)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_course", err.Error(), nil)
		return
	}
	p, err := svc.Enroll(r.Context(), user, course)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, p)
}

func completeLesson(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService, user core.UserID, lesson core.LessonID) {
	var body completeBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	res, err := svc.CompleteLesson(r.Context(), engine.CompleteLessonRequest{
		UserID:           user,
		LessonID:         lesson,
		CourseID:         body.CourseID,
		Score:            body.Score,
		TimeSpentSeconds: body.TimeSpentSeconds,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(completionStatus(res, err))
	_ = json.NewEncoder(w).Encode(res)
}

// completionStatus maps a completion outcome onto an HTTP status. The result
// body is always returned so clients can read the reason.
func completionStatus(res engine.CompletionResult, err error) int {
	switch {
	case err != nil:
		if core.IsTransient(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case res.Success:
		return http.StatusOK
	case res.Reason == core.ReasonNotFound:
		return http.StatusNotFound
	case res.Reason == core.ReasonNotEnrolled || res.Reason == core.ReasonMismatchedCourse:
		return http.StatusConflict
	case res.Reason == core.ReasonInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

func checkBadges(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService, user core.UserID) {
	badges, err := svc.CheckAndAwardBadges(r.Context(), user)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if badges == nil {
		badges = []engine.AwardedBadge{}
	}
	writeJSON(w, map[string]any{"badges": badges})
}

func listBadges(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService, user core.UserID) {
	badges, err := svc.UserBadges(r.Context(), user)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"badges": badges})
}

// Helpers

// healthCheck verifies the service is working properly
func healthCheck(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService) {
	// a missing sentinel user proves the store answered
	_, err := svc.GetUserProgress(r.Context(), core.UserID("healthcheck_sentinel"))
	if errors.Is(err, core.ErrNotFound) {
		err = nil
	}

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case core.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "storage temporarily unavailable", nil)
	case errors.Is(err, core.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	default:
		// driver text stays server side
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	var parts []string
	cur := make([]rune, 0, len(p))
	// trim leading '/'
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for _, r := range p {
		if r == sep {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}
