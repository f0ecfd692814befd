package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
}

func newTestPolicy(store StateStore) *AdaptivePolicy {
	policy := NewAdaptivePolicy(store)
	policy.Now = fixedNow
	return policy
}

func TestBeforeCallAllowsUnknownKey(t *testing.T) {
	policy := newTestPolicy(NewMemoryStateStore())
	key := Key{Provider: core.SourceFitbit, CustomerID: "cust-1"}

	if err := policy.BeforeCall(context.Background(), key, core.RateBudget{}); err != nil {
		t.Fatalf("expected clean pass, got %v", err)
	}
}

func TestAfterCallRetryAfterSecondsThrottles(t *testing.T) {
	store := NewMemoryStateStore()
	policy := newTestPolicy(store)
	key := Key{Provider: core.SourceFitbit, CustomerID: "cust-1"}

	err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "120"},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	err = policy.BeforeCall(context.Background(), key, core.RateBudget{})
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter != 2*time.Minute {
		t.Fatalf("expected 2m retry-after, got %s", throttled.RetryAfter)
	}
	if throttled.Provider != core.SourceFitbit {
		t.Fatalf("expected fitbit provider, got %s", throttled.Provider)
	}
}

func TestAfterCallRetryAfterHTTPDate(t *testing.T) {
	store := NewMemoryStateStore()
	policy := newTestPolicy(store)
	key := Key{Provider: core.SourceOura, CustomerID: "cust-2"}

	retryAt := fixedNow().Add(90 * time.Second)
	err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": retryAt.Format(time.RFC1123)},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	err = policy.BeforeCall(context.Background(), key, core.RateBudget{})
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter != 90*time.Second {
		t.Fatalf("expected 90s retry-after, got %s", throttled.RetryAfter)
	}
}

func TestAfterCallExhaustedRemainingBlocksUntilReset(t *testing.T) {
	store := NewMemoryStateStore()
	policy := newTestPolicy(store)
	key := Key{Provider: core.SourceStrava, CustomerID: "cust-3"}

	resetAt := fixedNow().Add(5 * time.Minute)
	err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"x-ratelimit-limit":     "100",
			"x-ratelimit-remaining": "0",
			"x-ratelimit-reset":     formatUnix(resetAt),
		},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	err = policy.BeforeCall(context.Background(), key, core.RateBudget{})
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
}

func TestAfterCallSuccessClearsThrottle(t *testing.T) {
	store := NewMemoryStateStore()
	policy := newTestPolicy(store)
	key := Key{Provider: core.SourceWithings, CustomerID: "cust-4"}

	if err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "60"},
	}); err != nil {
		t.Fatalf("throttle call: %v", err)
	}
	if err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"x-ratelimit-remaining": "99"},
	}); err != nil {
		t.Fatalf("success call: %v", err)
	}

	if err := policy.BeforeCall(context.Background(), key, core.RateBudget{}); err != nil {
		t.Fatalf("expected clean pass after recovery, got %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 0 {
		t.Fatalf("expected attempts reset, got %d", state.Attempts)
	}
	if state.ThrottledUntil != nil {
		t.Fatalf("expected throttle cleared")
	}
}

func TestBackoffGrowsWithoutRetryAfter(t *testing.T) {
	store := NewMemoryStateStore()
	policy := newTestPolicy(store)
	key := Key{Provider: core.SourceFitbit, CustomerID: "cust-5"}

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		if err := policy.AfterCall(context.Background(), key, ResponseMeta{StatusCode: http.StatusTooManyRequests}); err != nil {
			t.Fatalf("after call %d: %v", i, err)
		}
		state, err := store.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("get state %d: %v", i, err)
		}
		if state.ThrottledUntil == nil {
			t.Fatalf("expected throttled state on attempt %d", i)
		}
		delays = append(delays, state.ThrottledUntil.Sub(fixedNow()))
	}

	if delays[0] != time.Second || delays[1] != 2*time.Second || delays[2] != 4*time.Second {
		t.Fatalf("expected exponential backoff 1s/2s/4s, got %v", delays)
	}
}

func TestBudgetTrackerMinuteWindow(t *testing.T) {
	tracker := NewBudgetTracker()
	key := Key{Provider: core.SourceOura, CustomerID: "cust-6"}
	budget := core.RateBudget{PerMinute: 2}
	now := fixedNow()

	for i := 0; i < 2; i++ {
		if wait, ok := tracker.Reserve(key, budget, now); !ok {
			t.Fatalf("reserve %d blocked for %s", i, wait)
		}
	}
	wait, ok := tracker.Reserve(key, budget, now)
	if ok {
		t.Fatal("expected third reserve to block")
	}
	if wait <= 0 || wait > time.Minute {
		t.Fatalf("expected wait within the minute window, got %s", wait)
	}

	if _, ok := tracker.Reserve(key, budget, now.Add(time.Minute)); !ok {
		t.Fatal("expected reserve to pass after window rollover")
	}
}

func TestBudgetTrackerDayWindow(t *testing.T) {
	tracker := NewBudgetTracker()
	key := Key{Provider: core.SourceStrava, CustomerID: "cust-7"}
	budget := core.RateBudget{PerMinute: 100, PerDay: 1}
	now := fixedNow()

	if _, ok := tracker.Reserve(key, budget, now); !ok {
		t.Fatal("expected first reserve to pass")
	}
	if _, ok := tracker.Reserve(key, budget, now.Add(2*time.Hour)); ok {
		t.Fatal("expected day budget to block within the same day")
	}
	if _, ok := tracker.Reserve(key, budget, now.Add(24*time.Hour)); !ok {
		t.Fatal("expected reserve to pass the next day")
	}
}

func TestBeforeCallConsumesBudget(t *testing.T) {
	policy := newTestPolicy(NewMemoryStateStore())
	key := Key{Provider: core.SourceWithings, CustomerID: "cust-8"}
	budget := core.RateBudget{PerMinute: 1}

	if err := policy.BeforeCall(context.Background(), key, budget); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := policy.BeforeCall(context.Background(), key, budget)
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError from budget, got %v", err)
	}
}

func formatUnix(value time.Time) string {
	return strconv.FormatInt(value.Unix(), 10)
}
