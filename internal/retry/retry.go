// Package retry runs operations under a bounded, fixed-backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sleeper waits between attempts; system.Clock satisfies it.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Policy is a fixed-backoff retry policy.
type Policy struct {
	Attempts int
	Wait     time.Duration
}

// Fixed builds a policy making at most attempts tries with wait between them.
func Fixed(attempts int, wait time.Duration) Policy {
	if attempts <= 0 {
		attempts = 1
	}
	return Policy{Attempts: attempts, Wait: wait}
}

// ShouldRetry decides whether attempt (1-based) may be followed by another.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.Attempts {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn until it succeeds or the policy is exhausted. The hook, when
// non-nil, observes every failed attempt.
func Do(ctx context.Context, p Policy, sleeper Sleeper, fn func(ctx context.Context, attempt int) error, hook func(attempt int, err error)) (int, error) {
	attempt := 0
	for {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if hook != nil {
			hook(attempt, err)
		}
		if !p.ShouldRetry(err, attempt) {
			return attempt, fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}
		if sleeper != nil {
			if serr := sleeper.Sleep(ctx, p.Wait); serr != nil {
				return attempt, serr
			}
		}
	}
}
