package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"learnkit/core"
)

// Backoff is an exponential retry schedule: after the first call, up to
// Retries further calls are made, waiting Base, 2*Base, 4*Base, ...
type Backoff struct {
	Retries int
	Base    time.Duration
}

// DefaultEnrollmentBackoff waits 100ms, 200ms and 400ms before giving up.
var DefaultEnrollmentBackoff = Backoff{Retries: 3, Base: 100 * time.Millisecond}

// DefaultReadBackoff retries network-class read failures twice.
var DefaultReadBackoff = Backoff{Retries: 2, Base: 50 * time.Millisecond}

// Delay returns the wait before retry number n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 || b.Base <= 0 {
		return 0
	}
	if n > 30 {
		n = 30
	}
	return b.Base << uint(n)
}

// Retry calls fn until it succeeds, returns an error retryable rejects, or
// the schedule is exhausted. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b.schedule()),
		backoff.WithMaxTries(uint(max(b.Retries, 0))+1),
		backoff.WithMaxElapsedTime(0),
	)
	// the final attempt skips the library's own unwrapping
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return v, err
}

// schedule maps b onto a jitter-free exponential backoff capped at the last delay.
func (b Backoff) schedule() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     max(b.Base, 0),
		Multiplier:          2,
		RandomizationFactor: 0,
		MaxInterval:         b.Delay(max(b.Retries-1, 0)),
	}
}

// RetryUntilFound retries while fn reports core.ErrNotFound or a transient
// failure. Use it wherever a write may not yet be visible to the next read.
func RetryUntilFound[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	return Retry(ctx, b, func(err error) bool {
		return errors.Is(err, core.ErrNotFound) || core.IsTransient(err)
	}, fn)
}

// RetryTransient retries only network-class failures.
func RetryTransient[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	return Retry(ctx, b, core.IsTransient, fn)
}
