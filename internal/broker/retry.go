package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"scheduled-trader/internal/types"
)

// RetryPolicy parameterizes how the gateway retries transient venue failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter maps the computed backoff to the delay actually slept.
	Jitter func(time.Duration) time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each sleep with the caller's ctx and the
	// attempt that just failed.
	OnRetry func(ctx context.Context, attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy is five attempts, 500ms doubling to 30s, with full jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      FullJitter,
		Sleep:       SleepContext,
	}
}

// FullJitter picks a uniform delay in [0, d].
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// NoJitter returns d unchanged.
func NoJitter(d time.Duration) time.Duration { return d }

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the un-jittered delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, types.ErrOrderRejected) || errors.Is(err, types.ErrNotFound) {
		return false
	}
	return errors.Is(err, types.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
// Exhaustion returns an error wrapping types.ErrBrokerUnavailable.
// Cancellation of ctx itself stops retrying and returns ctx.Err() wrapped the same way.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = NoJitter
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Join(types.ErrBrokerUnavailable, ctx.Err())
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := jitter(p.Backoff(attempt))
		if p.OnRetry != nil {
			p.OnRetry(ctx, attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return errors.Join(types.ErrBrokerUnavailable, err)
		}
	}
	return &UnavailableError{Attempts: maxAttempts, Err: lastErr}
}

// UnavailableError is returned when every attempt failed transiently.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("broker unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Is(target error) bool { return target == types.ErrBrokerUnavailable }

func (e *UnavailableError) Unwrap() error { return e.Err }
