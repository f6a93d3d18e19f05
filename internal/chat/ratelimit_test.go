package chat

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("a") {
		t.Error("fourth request should be denied")
	}
	if !limiter.Allow("b") {
		t.Error("another author should not be limited")
	}
	if got := limiter.Count("a"); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(30 * time.Second)
	limiter.Allow("a")

	if limiter.Allow("a") {
		t.Fatal("request should be denied when limit reached")
	}
	if got := limiter.RemainingCooldown("a"); got != 30*time.Second {
		t.Errorf("RemainingCooldown = %v, want 30s", got)
	}

	now = now.Add(31 * time.Second)
	if !limiter.Allow("a") {
		t.Error("request should be allowed once the oldest left the window")
	}
	if limiter.Allow("a") {
		t.Error("window should be full again")
	}
}

func TestRateLimiter_SetLimitAndReset(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	limiter.Allow("a")
	if limiter.Allow("a") {
		t.Fatal("second request should be denied")
	}

	limiter.SetLimit(2, time.Minute)
	if !limiter.Allow("a") {
		t.Error("raised limit should allow another request")
	}

	limiter.Reset("a")
	if got := limiter.RemainingCooldown("a"); got != 0 {
		t.Errorf("RemainingCooldown after Reset = %v", got)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	if limiter.maxRequests != 30 || limiter.window != time.Minute {
		t.Errorf("defaults = %d per %v", limiter.maxRequests, limiter.window)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	limiter := NewRateLimiter(50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("a") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}
