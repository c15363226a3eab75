package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for transient failures: how many
// attempts to make, how long to back off between them, and which errors
// are worth retrying at all.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	Retryable   func(error) bool
	Sleep       func(time.Duration)
}

func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: backoff}
}

// ShouldRetry reports whether another attempt is allowed after the given
// zero-based attempt failed with err.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt+1 >= p.maxAttempts() {
		return false
	}
	return p.retryable()(err)
}

// Delay returns the backoff before the given zero-based retry attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.Backoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * rand.Float64())
	}
	return d
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	var err error
	for attempt := 0; attempt < p.maxAttempts(); attempt++ {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(attempt, err) {
			return err
		}
		sleep(p.Delay(attempt))
	}
	return err
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable() func(error) bool {
	if p.Retryable != nil {
		return p.Retryable
	}
	return DefaultIsRetryable
}

// DefaultIsRetryable treats everything except context cancellation as
// retryable, the same stance the providers take toward flaky transports.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
