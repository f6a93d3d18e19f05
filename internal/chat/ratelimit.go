package chat

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding window rate limiter per author.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	mu          sync.Mutex
	requests    map[string][]time.Time
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter.
// maxRequests: maximum number of requests allowed within the window
// window: time window for rate limiting (e.g., 1 minute)
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	maxRequests, window = rateDefaults(maxRequests, window)
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

func rateDefaults(maxRequests int, window time.Duration) (int, time.Duration) {
	if maxRequests <= 0 {
		maxRequests = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return maxRequests, window
}

// SetLimit changes the limit. History is kept.
func (r *RateLimiter) SetLimit(maxRequests int, window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxRequests, r.window = rateDefaults(maxRequests, window)
}

// Allow checks if a request from the given author is allowed and records it.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(key, now)

	if len(valid) >= r.maxRequests {
		return false
	}

	r.requests[key] = append(valid, now)
	return true
}

// RemainingCooldown returns the duration until the next request is allowed.
// Returns 0 if a request is currently allowed.
func (r *RateLimiter) RemainingCooldown(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(key, now)
	if len(valid) < r.maxRequests {
		return 0
	}

	// The oldest request in the window is the next to expire.
	remaining := valid[len(valid)-r.maxRequests].Add(r.window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Count returns the number of requests in the window for an author.
func (r *RateLimiter) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(key, r.now()))
}

// Reset clears the request history for an author.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, key)
}

// prune drops requests outside the window. Caller holds r.mu.
func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	history := r.requests[key]
	cutoff := now.Add(-r.window)

	valid := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.requests, key)
		return nil
	}
	r.requests[key] = valid
	return valid
}
