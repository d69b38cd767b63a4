package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"learnkit/core"
)

// CompleteLessonRequest is one lesson-completion attempt.
type CompleteLessonRequest struct {
	UserID           core.UserID   `json:"user_id"`
	LessonID         core.LessonID `json:"lesson_id"`
	CourseID         core.CourseID `json:"course_id"`
	Score            *int          `json:"score,omitempty"`
	TimeSpentSeconds int           `json:"time_spent_seconds,omitempty"`
}

// CompletionResult reports the outcome of CompleteLesson. Success=false with
// a Reason is a rejection; nothing was written in that case unless Reason is
// core.ReasonStoreFailure.
type CompletionResult struct {
	Success          bool           `json:"success"`
	XPEarned         int64          `json:"xp_earned"`
	NewLevel         int64          `json:"new_level"`
	CourseComplete   bool           `json:"course_complete"`
	AlreadyCompleted bool           `json:"already_completed,omitempty"`
	Reason           core.Reason    `json:"reason,omitempty"`
	Error            string         `json:"error,omitempty"`
	Badges           []AwardedBadge `json:"badges,omitempty"`
}

func rejected(r *core.Rejection) CompletionResult {
	return CompletionResult{Reason: r.Reason, Error: r.Message}
}

func storeFailure(err error) (CompletionResult, error) {
	return CompletionResult{Reason: core.ReasonStoreFailure, Error: "could not record completion, please retry"}, err
}

type recorderStore interface {
	UserStore
	CatalogStore
	CompletionStore
	ProgressStore
	LedgerStore
}

// Recorder records lesson completions exactly once per (user, lesson).
type Recorder struct {
	store      recorderStore
	awarder    *Awarder
	bus        *EventBus
	logger     *slog.Logger
	enrollment Backoff
	reads      Backoff
	now        func() time.Time
}

func NewRecorder(store recorderStore, awarder *Awarder, bus *EventBus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:      store,
		awarder:    awarder,
		bus:        bus,
		logger:     logger,
		enrollment: DefaultEnrollmentBackoff,
		reads:      DefaultReadBackoff,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CompleteLesson runs the completion workflow. Domain rejections come back
// as a result with a nil error; the error is non-nil only for store failures.
func (r *Recorder) CompleteLesson(ctx context.Context, req CompleteLessonRequest) (CompletionResult, error) {
	user, rej := validateRequest(req)
	if rej != nil {
		return rejected(rej), nil
	}

	// a completion record short-circuits every duplicate call
	_, err := RetryTransient(ctx, r.reads, func(ctx context.Context) (core.Completion, error) {
		return r.store.GetCompletion(ctx, user, req.LessonID)
	})
	switch {
	case err == nil:
		return r.alreadyCompleted(ctx, user, req.CourseID)
	case !errors.Is(err, core.ErrNotFound):
		return storeFailure(fmt.Errorf("lookup completion: %w", err))
	}

	lesson, course, rej, err := r.loadReferences(ctx, req)
	if err != nil {
		return storeFailure(err)
	}
	if rej != nil {
		return rejected(rej), nil
	}

	if rej := core.CheckLessonAttempt(lesson.Type, req.Score); rej != nil {
		return rejected(rej), nil
	}
	xp := core.LessonXP(lesson.Type, req.Score)

	// enrollment and the first completion can race, so the progress record
	// is polled before anything is written
	_, err = RetryUntilFound(ctx, r.enrollment, func(ctx context.Context) (core.CourseProgress, error) {
		return r.store.GetProgress(ctx, user, course.ID)
	})
	switch {
	case errors.Is(err, core.ErrNotFound):
		return rejected(core.Reject(core.ReasonNotEnrolled, fmt.Sprintf("user is not enrolled in course %s", course.ID))), nil
	case err != nil:
		return storeFailure(fmt.Errorf("lookup progress: %w", err))
	}

	u, err := r.store.EnsureUser(ctx, user)
	if err != nil {
		return storeFailure(fmt.Errorf("ensure user: %w", err))
	}

	now := r.now()
	completion := core.Completion{
		ID:               uuid.NewString(),
		UserID:           user,
		LessonID:         lesson.ID,
		CourseID:         course.ID,
		TimeSpentSeconds: req.TimeSpentSeconds,
		XPAwarded:        xp,
		CompletedAt:      now,
	}
	if lesson.Type == core.LessonQuiz {
		completion.Score = req.Score
	}
	if err := r.store.InsertCompletion(ctx, completion); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			// lost the race to a concurrent call for the same lesson
			return r.alreadyCompleted(ctx, user, course.ID)
		}
		return storeFailure(fmt.Errorf("insert completion: %w", err))
	}

	// From here on the completion is recorded. Failures leave a soft
	// inconsistency that a reconciliation pass has to repair.
	award, err := r.awarder.Award(ctx, user, xp, core.XPSourceLesson, string(lesson.ID))
	if err != nil {
		r.logger.Error("completion recorded but xp award failed", "user", user, "lesson", lesson.ID, "xp", xp, "err", err)
		return storeFailure(err)
	}
	res := CompletionResult{Success: true, XPEarned: xp, NewLevel: award.Level}

	if _, err := r.store.IncrementCounter(ctx, user, core.CounterLessonsCompleted, 1); err != nil {
		r.logger.Error("completion recorded but lesson counter failed", "user", user, "lesson", lesson.ID, "err", err)
		return storeFailure(fmt.Errorf("increment lessons: %w", err))
	}
	if err := r.store.SetStreak(ctx, user, core.NextStreak(u.Streak(), now)); err != nil {
		r.logger.Warn("streak update failed", "user", user, "err", err)
	}

	change, err := r.store.AdvanceProgress(ctx, user, course.ID, lesson.ID, course.TotalLessons, now)
	if err != nil {
		r.logger.Error("completion recorded but progress update failed", "user", user, "course", course.ID, "err", err)
		return storeFailure(fmt.Errorf("advance progress: %w", err))
	}

	if change.JustCompleted() {
		bonus, err := r.awarder.Award(ctx, user, core.XPCourseComplete, core.XPSourceCourse, string(course.ID))
		if err != nil {
			r.logger.Error("course completed but bonus award failed", "user", user, "course", course.ID, "err", err)
			return storeFailure(err)
		}
		if _, err := r.store.IncrementCounter(ctx, user, core.CounterCoursesCompleted, 1); err != nil {
			r.logger.Error("course completed but course counter failed", "user", user, "course", course.ID, "err", err)
			return storeFailure(fmt.Errorf("increment courses: %w", err))
		}
		res.XPEarned += core.XPCourseComplete
		res.NewLevel = bonus.Level
		res.CourseComplete = true
	}

	if r.bus != nil {
		r.bus.Publish(ctx, core.NewLessonCompleted(user, course.ID, lesson.ID, xp))
		if res.CourseComplete {
			r.bus.Publish(ctx, core.NewCourseCompleted(user, course.ID, core.XPCourseComplete))
		}
	}
	r.logger.Debug("lesson completed", "user", user, "lesson", lesson.ID, "xp", res.XPEarned, "course_complete", res.CourseComplete)
	return res, nil
}

func validateRequest(req CompleteLessonRequest) (core.UserID, *core.Rejection) {
	user, err := core.NormalizeUserID(req.UserID)
	if err != nil {
		return "", core.Reject(core.ReasonInvalidInput, err.Error())
	}
	if err := core.ValidateID("lesson", string(req.LessonID)); err != nil {
		return "", core.Reject(core.ReasonInvalidInput, err.Error())
	}
	if err := core.ValidateID("course", string(req.CourseID)); err != nil {
		return "", core.Reject(core.ReasonInvalidInput, err.Error())
	}
	if req.TimeSpentSeconds < 0 {
		return "", core.Reject(core.ReasonInvalidInput, "time spent cannot be negative")
	}
	return user, nil
}

func (r *Recorder) loadReferences(ctx context.Context, req CompleteLessonRequest) (core.Lesson, core.Course, *core.Rejection, error) {
	lesson, err := RetryTransient(ctx, r.reads, func(ctx context.Context) (core.Lesson, error) {
		return r.store.GetLesson(ctx, req.LessonID)
	})
	if errors.Is(err, core.ErrNotFound) {
		return core.Lesson{}, core.Course{}, core.Reject(core.ReasonNotFound, fmt.Sprintf("lesson %s not found", req.LessonID)), nil
	}
	if err != nil {
		return core.Lesson{}, core.Course{}, nil, fmt.Errorf("load lesson: %w", err)
	}
	if lesson.CourseID != req.CourseID {
		return lesson, core.Course{}, core.Reject(core.ReasonMismatchedCourse, fmt.Sprintf("lesson %s does not belong to course %s", lesson.ID, req.CourseID)), nil
	}
	course, err := RetryTransient(ctx, r.reads, func(ctx context.Context) (core.Course, error) {
		return r.store.GetCourse(ctx, req.CourseID)
	})
	if errors.Is(err, core.ErrNotFound) {
		return lesson, core.Course{}, core.Reject(core.ReasonNotFound, fmt.Sprintf("course %s not found", req.CourseID)), nil
	}
	if err != nil {
		return lesson, core.Course{}, nil, fmt.Errorf("load course: %w", err)
	}
	if course.TotalLessons <= 0 {
		return lesson, course, core.Reject(core.ReasonInvalidCourse, fmt.Sprintf("course %s has no lessons", course.ID)), nil
	}
	return lesson, course, nil, nil
}

// alreadyCompleted reports the idempotent no-op: zero XP, the current derived
// level, and whether the course is complete.
func (r *Recorder) alreadyCompleted(ctx context.Context, user core.UserID, course core.CourseID) (CompletionResult, error) {
	res := CompletionResult{Success: true, AlreadyCompleted: true, NewLevel: 1}
	u, err := RetryTransient(ctx, r.reads, func(ctx context.Context) (core.User, error) { return r.store.GetUser(ctx, user) })
	switch {
	case err == nil:
		res.NewLevel = core.LevelFromXP(u.TotalXP)
	case !errors.Is(err, core.ErrNotFound):
		return storeFailure(fmt.Errorf("read user: %w", err))
	}
	p, err := RetryTransient(ctx, r.reads, func(ctx context.Context) (core.CourseProgress, error) {
		return r.store.GetProgress(ctx, user, course)
	})
	switch {
	case err == nil:
		res.CourseComplete = p.Complete()
	case !errors.Is(err, core.ErrNotFound):
		return storeFailure(fmt.Errorf("read progress: %w", err))
	}
	return res, nil
}
