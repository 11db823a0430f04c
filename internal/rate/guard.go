// Package rate enforces per-identifier, per-action quotas using fixed
// windows. Window reset is lazy: a bucket is reset when it is next
// touched after its window has passed, so no background timers run.
//
// This guard covers the domain-level quotas (how many codes a device may
// issue per hour). Transport-level flood protection is handled separately
// in the server package.
package rate

import (
	"fmt"
	"sync"
	"time"
)

// Action names for the guarded operations.
const (
	ActionIssueCode      = "pairing_code_issue"
	ActionRedeemCode     = "pairing_code_redeem"
	ActionEstablishTrust = "trust_establish"
)

// Limit is a fixed-window quota: at most Max occurrences per Window.
type Limit struct {
	Window time.Duration
	Max    int
}

// DefaultLimits are the quotas for the pairing and trust actions.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ActionIssueCode:      {Window: time.Hour, Max: 3},
		ActionRedeemCode:     {Window: 30 * time.Minute, Max: 3},
		ActionEstablishTrust: {Window: 30 * time.Minute, Max: 3},
	}
}

// bucket is a fixed-window counter for one (identifier, action) pair.
type bucket struct {
	count       int
	windowStart time.Time
}

// Guard tracks fixed-window counters keyed by (identifier, action).
// All methods are safe for concurrent use.
type Guard struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucket
}

// NewGuard creates a guard with the default limits.
func NewGuard() *Guard {
	return NewGuardWithLimits(DefaultLimits())
}

// NewGuardWithLimits creates a guard with custom limits.
// Actions without a configured limit are always allowed.
func NewGuardWithLimits(limits map[string]Limit) *Guard {
	return &Guard{
		limits:  limits,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether identifier may perform action at time now.
// On rejection, retryAfter is the remaining window time.
//
// A bucket is created lazily on first use and reset in place when its
// window has elapsed. Allow counts the attempt when it is permitted.
func (g *Guard) Allow(identifier, action string, now time.Time) (ok bool, retryAfter time.Duration) {
	limit, limited := g.limits[action]
	if !limited {
		return true, 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(now)

	key := bucketKey(identifier, action)
	b, exists := g.buckets[key]
	if !exists || now.Sub(b.windowStart) > limit.Window {
		b = &bucket{windowStart: now}
		g.buckets[key] = b
	}

	if b.count >= limit.Max {
		remaining := limit.Window - now.Sub(b.windowStart)
		if remaining < 0 {
			remaining = 0
		}
		return false, remaining
	}

	b.count++
	return true, 0
}

// Remaining returns how many more times identifier may perform action
// in the current window. Used for diagnostics; does not count an attempt.
func (g *Guard) Remaining(identifier, action string, now time.Time) int {
	limit, limited := g.limits[action]
	if !limited {
		return -1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	b, exists := g.buckets[bucketKey(identifier, action)]
	if !exists || now.Sub(b.windowStart) > limit.Window {
		return limit.Max
	}

	remaining := limit.Max - b.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// pruneLocked drops buckets whose window has fully elapsed.
// Must be called with g.mu held.
func (g *Guard) pruneLocked(now time.Time) {
	for key, b := range g.buckets {
		limit, limited := g.limits[actionOfKey(key)]
		if !limited || now.Sub(b.windowStart) > limit.Window {
			delete(g.buckets, key)
		}
	}
}

// bucketKey builds the composite map key for an (identifier, action) pair.
// The separator cannot appear in action names.
func bucketKey(identifier, action string) string {
	return fmt.Sprintf("%s\x00%s", identifier, action)
}

// actionOfKey extracts the action from a composite bucket key.
func actionOfKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[i+1:]
		}
	}
	return key
}

// LimitError reports a rejected action together with the time the
// caller must wait before retrying.
type LimitError struct {
	Action     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Action, e.RetryAfter.Round(time.Second))
}
