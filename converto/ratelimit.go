package converto

import (
	"sync"
	"time"
)

// UserRateLimiter limits how many queries a single user may make within a
// trailing time window.
//
// The window slides continuously: on every call, timestamps older than the
// window are discarded, so a slot frees up exactly one window after the
// request that consumed it. A rejected call does not consume quota.
//
// The check-and-record step happens under a single mutex acquisition, so two
// near-simultaneous requests from the same user can't both pass when only
// one should.
type UserRateLimiter struct {
	window      time.Duration
	maxRequests int
	mu          sync.Mutex
	requests    map[string][]time.Time

	// now is the clock used for window arithmetic. Overridable for tests.
	now func() time.Time
}

// NewUserRateLimiter returns a UserRateLimiter enforcing
// [RateLimitConfig.MaxRequests] per user per [RateLimitConfig.Window].
func NewUserRateLimiter(config *RateLimitConfig) *UserRateLimiter {
	return &UserRateLimiter{
		window:      config.Window,
		maxRequests: config.MaxRequests,
		requests:    map[string][]time.Time{},
		now:         time.Now,
	}
}

// Allow reports whether the given user is within their rate limit, and, if
// so, records the request against their quota.
func (r *UserRateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.pruneLocked(userID, now)

	if len(recent) >= r.maxRequests {
		return false
	}
	r.requests[userID] = append(recent, now)
	return true
}

// Remaining returns the number of requests the given user has left in the
// current window. It does not consume quota.
func (r *UserRateLimiter) Remaining(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	recent := r.pruneLocked(userID, r.now())
	return r.maxRequests - len(recent)
}

// Window returns the configured rate-limit window.
func (r *UserRateLimiter) Window() time.Duration {
	return r.window
}

// Prune evicts users whose every recorded request has aged out of the
// window, and returns the number of users evicted. State is rebuilt on a
// user's next request, so eviction never affects admit/reject decisions.
func (r *UserRateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for userID := range r.requests {
		if len(r.pruneLocked(userID, now)) == 0 {
			delete(r.requests, userID)
			evicted++
		}
	}
	return evicted
}

// pruneLocked drops timestamps older than the window for the given user and
// returns what remains. Callers must hold r.mu.
func (r *UserRateLimiter) pruneLocked(userID string, now time.Time) []time.Time {
	recorded := r.requests[userID]
	cutoff := now.Add(-r.window)

	recent := recorded[:0]
	for _, at := range recorded {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	r.requests[userID] = recent
	return recent
}
