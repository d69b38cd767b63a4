package core

import (
	"errors"
	"fmt"
)

// Storage sentinels. Adapters wrap driver errors so callers can match with errors.Is.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists reports a uniqueness violation on an idempotency marker.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrAtomicUnavailable reports that the store cannot add to a counter atomically.
	ErrAtomicUnavailable = errors.New("atomic increment unavailable")
	// ErrTransient marks network-class failures that may succeed on retry.
	ErrTransient = errors.New("transient store failure")
	// ErrInvalidInput marks caller-correctable identifiers and parameters.
	ErrInvalidInput = errors.New("invalid input")
)

// Transient tags err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return errors.Join(ErrTransient, err)
}

// IsTransient reports whether err was tagged as retryable.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotFound         Reason = "not_found"
	ReasonMismatchedCourse Reason = "mismatched_course"
	ReasonQuizNotPassed    Reason = "quiz_not_passed"
	ReasonInvalidScore     Reason = "invalid_score"
	ReasonInvalidLesson    Reason = "invalid_lesson"
	ReasonInvalidCourse    Reason = "invalid_course"
	ReasonNotEnrolled      Reason = "not_enrolled"
	ReasonInvalidInput     Reason = "invalid_input"
	ReasonStoreFailure     Reason = "store_failure"
)

// Rejection is a caller-correctable validation outcome. It is a value,
// not an error: nothing was written when one is produced.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func Reject(reason Reason, msg string) *Rejection {
	return &Rejection{Reason: reason, Message: msg}
}

func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}
