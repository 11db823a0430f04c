package rate

import (
	"sync"
	"testing"
	"time"
)

// TestAllowWithinLimit verifies the first Max attempts pass.
func TestAllowWithinLimit(t *testing.T) {
	g := NewGuard()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, retryAfter := g.Allow("device-a", ActionIssueCode, now)
		if !ok {
			t.Fatalf("attempt %d rejected, want allowed", i+1)
		}
		if retryAfter != 0 {
			t.Errorf("attempt %d: retryAfter = %v, want 0", i+1, retryAfter)
		}
	}
}

// TestAllowOverLimit verifies the 4th attempt within the window is
// rejected with a positive retryAfter.
func TestAllowOverLimit(t *testing.T) {
	g := NewGuard()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		g.Allow("device-a", ActionIssueCode, now)
	}

	later := now.Add(10 * time.Minute)
	ok, retryAfter := g.Allow("device-a", ActionIssueCode, later)
	if ok {
		t.Fatal("4th attempt allowed, want rejected")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", retryAfter)
	}
	if want := 50 * time.Minute; retryAfter != want {
		t.Errorf("retryAfter = %v, want %v", retryAfter, want)
	}
}

// TestWindowReset verifies the counter resets once the window elapses.
func TestWindowReset(t *testing.T) {
	g := NewGuard()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		g.Allow("device-a", ActionIssueCode, now)
	}
	if ok, _ := g.Allow("device-a", ActionIssueCode, now); ok {
		t.Fatal("expected rejection inside window")
	}

	// 1 hour and 1 second later the window has elapsed.
	after := now.Add(time.Hour + time.Second)
	if ok, _ := g.Allow("device-a", ActionIssueCode, after); !ok {
		t.Fatal("expected allow after window reset")
	}
}

// TestIndependentIdentifiers verifies buckets do not leak across devices.
func TestIndependentIdentifiers(t *testing.T) {
	g := NewGuard()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		g.Allow("device-a", ActionIssueCode, now)
	}

	if ok, _ := g.Allow("device-b", ActionIssueCode, now); !ok {
		t.Fatal("device-b rejected by device-a's bucket")
	}
}

// TestIndependentActions verifies issue and redeem quotas are separate.
func TestIndependentActions(t *testing.T) {
	g := NewGuard()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		g.Allow("device-a", ActionIssueCode, now)
	}

	if ok, _ := g.Allow("device-a", ActionRedeemCode, now); !ok {
		t.Fatal("redeem rejected by issue bucket")
	}
}

// TestUnlimitedAction verifies unknown actions are never throttled.
func TestUnlimitedAction(t *testing.T) {
	g := NewGuard()
	now := time.Now()

	for i := 0; i < 100; i++ {
		if ok, _ := g.Allow("device-a", "unconfigured_action", now); !ok {
			t.Fatal("unconfigured action was throttled")
		}
	}
}

// TestRemaining verifies the diagnostic counter.
func TestRemaining(t *testing.T) {
	g := NewGuard()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	if r := g.Remaining("device-a", ActionIssueCode, now); r != 3 {
		t.Errorf("Remaining before any attempt = %d, want 3", r)
	}

	g.Allow("device-a", ActionIssueCode, now)
	g.Allow("device-a", ActionIssueCode, now)

	if r := g.Remaining("device-a", ActionIssueCode, now); r != 1 {
		t.Errorf("Remaining after 2 attempts = %d, want 1", r)
	}
}

// TestConcurrentAllow verifies the guard admits exactly Max attempts
// under concurrent access.
func TestConcurrentAllow(t *testing.T) {
	g := NewGuard()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.Allow("device-a", ActionIssueCode, now); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 3 {
		t.Errorf("allowed = %d concurrent attempts, want exactly 3", allowed)
	}
}
