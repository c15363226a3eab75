package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyStopsAfterMaxAttempts(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	p.Sleep = func(time.Duration) {}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected error after exhaustion")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryPolicySucceedsMidway(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	p.Sleep = func(time.Duration) {}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryPolicyHonorsPredicate(t *testing.T) {
	terminal := errors.New("terminal")
	p := NewRetryPolicy(5, time.Millisecond)
	p.Sleep = func(time.Duration) {}
	p.Retryable = func(err error) bool { return !errors.Is(err, terminal) }
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt for non-retryable error, got %d", calls)
	}
}

func TestDelayGrowsAndClamps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	if d := p.Delay(0); d != 100*time.Millisecond {
		t.Fatalf("attempt 0 delay = %v", d)
	}
	if d := p.Delay(1); d != 200*time.Millisecond {
		t.Fatalf("attempt 1 delay = %v", d)
	}
	if d := p.Delay(3); d != 300*time.Millisecond {
		t.Fatalf("attempt 3 delay should clamp, got %v", d)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, nil)
	if !cb.Allow() {
		t.Fatalf("breaker should start closed")
	}
	cb.OnError(RateLimitError{Provider: "svc"})
	cb.OnError(RateLimitError{Provider: "svc"})
	if cb.Allow() {
		t.Fatalf("breaker should be open after threshold")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("breaker should close on success")
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, nil)
	cb.OnError(errors.New("plain"))
	if !cb.Allow() {
		t.Fatalf("non rate-limit errors must not trip the breaker")
	}
}
