package core

import "fmt"

const (
	// PassingScore is the lowest quiz score that counts as a completion.
	PassingScore = 70
	// PerfectScore earns the quiz bonus.
	PerfectScore = 100

	XPText           int64 = 10
	XPInteractive    int64 = 10
	XPQuizPassed     int64 = 20
	XPQuizPerfect    int64 = 30
	XPPractical      int64 = 50
	XPCourseComplete int64 = 100
)

// LessonXP maps a lesson type and optional quiz score to the XP it awards.
// Quizzes without a score or below PassingScore award nothing.
func LessonXP(t LessonType, score *int) int64 {
	switch t {
	case LessonText:
		return XPText
	case LessonInteractive:
		return XPInteractive
	case LessonPractical:
		return XPPractical
	case LessonQuiz:
		if score == nil || *score < PassingScore {
			return 0
		}
		if *score >= PerfectScore {
			return XPQuizPerfect
		}
		return XPQuizPassed
	}
	return 0
}

// CheckLessonAttempt decides whether an attempt counts as a completion.
// A nil Rejection means the attempt passes and LessonXP applies.
func CheckLessonAttempt(t LessonType, score *int) *Rejection {
	if !t.Valid() {
		return Reject(ReasonInvalidLesson, fmt.Sprintf("unknown lesson type %q", t))
	}
	if score != nil && (*score < 0 || *score > PerfectScore) {
		return Reject(ReasonInvalidScore, fmt.Sprintf("score %d outside 0-100", *score))
	}
	if t != LessonQuiz {
		return nil
	}
	if score == nil {
		return Reject(ReasonQuizNotPassed, "quiz requires a score")
	}
	if *score < PassingScore {
		return Reject(ReasonQuizNotPassed, fmt.Sprintf("score %d is below the passing score of %d, try again", *score, PassingScore))
	}
	return nil
}
