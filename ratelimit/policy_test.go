package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ateliercommun/groupsync/core"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func testKey() core.RateLimitKey {
	return core.RateLimitKey{SystemID: "brevo", BucketKey: "default"}
}

func TestBeforeCallAllowsUnknownKey(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	if err := policy.BeforeCall(context.Background(), testKey()); err != nil {
		t.Fatalf("expected unknown key to pass, got %v", err)
	}
}

func TestAfterCall429OpensHoldWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	policy.Now = fixedClock(now)

	err := policy.AfterCall(context.Background(), testKey(), core.ProviderResponseMeta{
		StatusCode: 429,
		Headers:    map[string]string{"Retry-After": "30"},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	gateErr := policy.BeforeCall(context.Background(), testKey())
	if gateErr == nil {
		t.Fatal("expected throttled key to be blocked")
	}
	var throttled ThrottledError
	if !errors.As(gateErr, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", gateErr)
	}
	if throttled.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s hold, got %s", throttled.RetryAfter)
	}

	// After the window passes, calls flow again.
	policy.Now = fixedClock(now.Add(31 * time.Second))
	if err := policy.BeforeCall(context.Background(), testKey()); err != nil {
		t.Fatalf("expected hold to expire, got %v", err)
	}
}

func TestAfterCallSuccessClearsHold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	policy.Now = fixedClock(now)

	if err := policy.AfterCall(context.Background(), testKey(), core.ProviderResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("throttle: %v", err)
	}
	if err := policy.AfterCall(context.Background(), testKey(), core.ProviderResponseMeta{StatusCode: 200}); err != nil {
		t.Fatalf("success: %v", err)
	}
	if err := policy.BeforeCall(context.Background(), testKey()); err != nil {
		t.Fatalf("expected cleared hold, got %v", err)
	}
}

func TestAfterCallExhaustedQuotaBlocksUntilReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reset := now.Add(time.Minute)
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	policy.Now = fixedClock(now)

	err := policy.AfterCall(context.Background(), testKey(), core.ProviderResponseMeta{
		StatusCode: 200,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
		},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	store := policy.Store.(*MemoryStateStore)
	state, err := store.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", state.Remaining)
	}
	if state.ThrottledUntil == nil {
		t.Fatal("expected exhausted quota to open a hold window")
	}
}

func TestThrottledBackoffDoubles(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	policy.InitialBackoff = time.Second
	policy.MaxBackoff = 10 * time.Second

	if got := policy.nextBackoff(1); got != time.Second {
		t.Fatalf("attempt 1: got %s", got)
	}
	if got := policy.nextBackoff(3); got != 4*time.Second {
		t.Fatalf("attempt 3: got %s", got)
	}
	if got := policy.nextBackoff(10); got != 10*time.Second {
		t.Fatalf("attempt 10: expected cap, got %s", got)
	}
}

func TestThrottledErrorEnvelope(t *testing.T) {
	err := ThrottledError{SystemID: "brevo", BucketKey: "default", RetryAfter: time.Second}.ToSyncError()
	if err.Code != 429 {
		t.Fatalf("expected 429, got %d", err.Code)
	}
	if err.TextCode != core.SyncErrorTransient {
		t.Fatalf("expected transient text code, got %s", err.TextCode)
	}
	if !core.IsTransientError(err) {
		t.Fatal("expected throttle to be transient")
	}
}

func TestMemoryStateStoreRoundTrip(t *testing.T) {
	store := NewMemoryStateStore()
	if _, err := store.Get(context.Background(), testKey()); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	state := State{Key: core.RateLimitKey{SystemID: "Brevo", BucketKey: "Default"}, Remaining: 7}
	if err := store.Upsert(context.Background(), state); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := store.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Remaining != 7 {
		t.Fatalf("expected remaining 7, got %d", got.Remaining)
	}
}
