package ratelimit

import (
	"sync"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
)

// Human-readable scope labels surfaced on a throttled event, matching the
// policy enforcer's convention of reporting a stable, readable rule string.
const (
	ScopeGlobal     = "Rate limit exceeded"
	ScopeSession    = "Rate limit exceeded"
	ScopePerCommand = "Per-command rate limit exceeded"
)

// Decision is the outcome of an admission check across all applicable tiers.
type Decision struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration
}

type bucketKey struct {
	tier    string
	session contract.SessionID
	command contract.CommandKind
}

// Limiter maintains named, lazily-created buckets for the global tier, one
// per-session tier, and one per-(session,command) tier, per spec.md §4.3.
// Buckets are created lazily and keyed by (scope, session?, command?); the
// bucket map itself is guarded by a read-write lock while each bucket
// serializes its own refill/deduct under its own mutex, so admission checks
// for different sessions never contend on the same lock.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*Bucket

	global contract.RateLimits
}

// NewLimiter constructs a Limiter with the process-wide global limits
// configuration. A zero-value RateLimits{} means no global tier is enforced.
func NewLimiter(global contract.RateLimits) *Limiter {
	return &Limiter{
		buckets: make(map[bucketKey]*Bucket),
		global:  global,
	}
}

// Admit checks a command for session sessionID with policy-level limits
// policyLimits (the session's PolicyProfile.Limits, nil if unset) against
// the global tier, the session tier, and — if policyLimits carries a
// per-command cap for kind — the per-command tier. All three tiers are
// independently evaluated (each bucket only deducts a token when it itself
// allows); if any tier throttles, the returned Decision carries the maximum
// retryAfter across the throttled tiers and the scope of whichever tier
// produced it.
func (l *Limiter) Admit(now time.Time, sessionID contract.SessionID, policyLimits *contract.RateLimits, kind contract.CommandKind) Decision {
	var throttledScope string
	var maxRetry time.Duration
	throttled := false

	consider := func(tier string, key bucketKey, limits contract.RateLimits) {
		if limits.CallsPerMinute == nil && limits.Burst == nil {
			return
		}
		capacity := 0.0
		if limits.Burst != nil {
			capacity = float64(*limits.Burst)
		}
		rate := 0.0
		if limits.CallsPerMinute != nil {
			rate = *limits.CallsPerMinute / 60.0
		}
		bucket := l.bucketFor(key, capacity, rate, now)
		allowed, retryAfter := bucket.Admit(now)
		if allowed {
			return
		}
		throttled = true
		if retryAfter > maxRetry {
			maxRetry = retryAfter
			throttledScope = tier
		}
	}

	consider(ScopeGlobal, bucketKey{tier: "global"}, l.global)

	if policyLimits != nil {
		consider(ScopeSession, bucketKey{tier: "session", session: sessionID}, *policyLimits)

		if capVal, ok := policyLimits.PerCommandCaps[kind]; ok {
			rate := float64(capVal) / 60.0
			consider(ScopePerCommand, bucketKey{tier: "command", session: sessionID, command: kind},
				contract.RateLimits{CallsPerMinute: &rate, Burst: &capVal})
		}
	}

	if !throttled {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Scope: throttledScope, RetryAfter: maxRetry}
}

func (l *Limiter) bucketFor(key bucketKey, capacity, rate float64, now time.Time) *Bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = NewBucket(capacity, rate, now)
	l.buckets[key] = b
	return b
}
