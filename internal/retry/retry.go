// Package retry runs a unit of work under a bounded retry policy for transient storage
// conflicts. Each attempt is classified as Success, Retry or Fatal; the delay before
// an attempt is a pure function of the attempt number.
package retry

import (
	"context"
	"time"

	"github.com/and161185/kanban-keeper/internal/errs"
)

// Outcome is the classification of a single attempt.
type Outcome uint8

const (
	Success Outcome = iota
	Retry
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	default:
		return "fatal"
	}
}

// Defaults used when a Policy field is zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 50 * time.Millisecond
)

// Backoff returns the delay before attempt (1-based): none before the first attempt,
// then base doubling each attempt (base, 2*base, 4*base, ...).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return base << (attempt - 2)
}

// Classify maps an attempt result to an outcome using the transient predicate.
func Classify(err error, isTransient func(error) bool) Outcome {
	switch {
	case err == nil:
		return Success
	case isTransient != nil && isTransient(err):
		return Retry
	default:
		return Fatal
	}
}

// Policy bounds retries of transient failures.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// IsTransient is supplied by the storage layer.
	IsTransient func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each retried attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Run executes fn until it succeeds, fails fatally or attempts run out. It returns
// the number of attempts made. Exhaustion yields an errs.KindStorageConflict error
// wrapping the last failure; fatal errors are returned unchanged.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if d := Backoff(base, attempt); d > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, d, last)
			}
			if err := sleep(ctx, d); err != nil {
				return attempt - 1, err
			}
		}
		last = fn(ctx)
		switch Classify(last, p.IsTransient) {
		case Success:
			return attempt, nil
		case Fatal:
			return attempt, last
		}
	}
	return maxAttempts, errs.StorageConflict(last)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
