// Package retry runs an operation under an explicit, testable retry
// policy. The request executor retries transient network failures
// through it; HTTP-level responses are never retried because a 4xx or
// 5xx body is an answer, not a failure.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy is the retry parameter object. Its zero value is not useful;
// start from DefaultPolicy.
type Policy struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int

	// InitDelay is the backoff before the second attempt.
	InitDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Jitter randomizes each delay by ±25% to avoid retry storms.
	Jitter bool
}

// DefaultPolicy returns the executor's policy: 3 attempts, exponential
// backoff from 1s capped at 10s, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Stop wraps err so Do returns it immediately without further
// attempts. Use for failures more attempts cannot fix (cancelled
// context, out-of-scope target).
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Stop.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// sleep is swapped out by tests to avoid real waiting.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, the policy is exhausted, fn returns a
// Stop-wrapped error, or ctx ends. The returned error is the last
// attempt's (unwrapped from Stop when permanent).
func Do(ctx context.Context, policy Policy, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, Delay(policy, attempt-1)); serr != nil {
				return serr
			}
		}

		if err = fn(); err == nil {
			return nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// Delay computes the backoff after a given zero-based failed attempt.
// Exported so the executor's tests can assert the schedule.
func Delay(policy Policy, attempt int) time.Duration {
	if policy.InitDelay <= 0 {
		return 0
	}

	// Float math so high attempt counts saturate instead of
	// overflowing int64.
	d := float64(policy.InitDelay) * math.Pow(2, float64(attempt))
	max := float64(policy.MaxDelay)
	if max > 0 && (d > max || math.IsInf(d, 1)) {
		d = max
	}

	if policy.Jitter {
		d = d * (0.75 + rand.Float64()*0.5)
		if max > 0 && d > max {
			d = max
		}
	}
	return time.Duration(d)
}
