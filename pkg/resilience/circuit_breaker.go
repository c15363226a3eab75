package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// RateLimitError reports that an upstream collaborator (the assistant
// service or a speech provider) throttled a request. Rate limits are
// never retried inline; they count toward the circuit breaker instead.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit reports whether err is, or wraps, a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// UnavailableError reports a server-side failure from the assistant
// service. One occurrence is retried; repeated occurrences trip the
// circuit breaker.
type UnavailableError struct {
	Service string
	Status  int
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: status %d", e.Service, e.Status)
}

// IsUnavailable reports whether err is, or wraps, an UnavailableError.
func IsUnavailable(err error) bool {
	var ue UnavailableError
	return errors.As(err, &ue)
}

// DefaultTrip is the breaker predicate used when none is given:
// throttling and server-side failures count toward opening; client
// errors, decode failures and cancellations do not.
func DefaultTrip(err error) bool {
	return IsRateLimit(err) || IsUnavailable(err)
}

// CircuitBreaker sheds interpret/execute calls once the assistant
// service shows sustained overload, so a struggling backend is not
// hammered by every interaction cycle. It opens after threshold
// consecutive tripping failures and stays open for cooldown; a success
// closes it, and the first call after the cooldown expires probes the
// backend again.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	trip      func(error) bool
	failures  int
	openUntil time.Time
}

// NewCircuitBreaker builds a breaker. trip selects which errors count
// toward opening; nil means DefaultTrip.
func NewCircuitBreaker(threshold int, cooldown time.Duration, trip func(error) bool) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if trip == nil {
		trip = DefaultTrip
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, trip: trip}
}

// Allow reports whether a call may proceed. When the cooldown has
// expired the breaker closes and the call goes through as a probe.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(c.openUntil) {
		return false
	}
	c.openUntil = time.Time{}
	c.failures = 0
	return true
}

// OnSuccess closes the breaker and clears the failure streak.
func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

// OnError records a finished call that failed. Errors the trip
// predicate rejects leave the streak untouched.
func (c *CircuitBreaker) OnError(err error) {
	if !c.trip(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		c.openUntil = time.Now().Add(c.cooldown)
	}
}
