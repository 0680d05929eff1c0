package server

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	limiter := newUploadRateLimiter(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1", now) {
			t.Fatalf("event %d blocked inside budget", i)
		}
	}
	if limiter.Allow("10.0.0.1", now) {
		t.Fatal("fourth event allowed")
	}

	// Another client has its own budget.
	if !limiter.Allow("10.0.0.2", now) {
		t.Fatal("unrelated client blocked")
	}

	// A new window resets the count.
	if !limiter.Allow("10.0.0.1", now.Add(2*time.Minute)) {
		t.Fatal("event blocked after window expired")
	}
}

func TestRateLimiterNilAllowsEverything(t *testing.T) {
	var limiter *uploadRateLimiter
	for i := 0; i < 100; i++ {
		if !limiter.Allow("anyone", time.Now()) {
			t.Fatal("nil limiter blocked a request")
		}
	}
	if newUploadRateLimiter(0, time.Minute) != nil {
		t.Fatal("zero budget should disable the limiter")
	}
}

func TestRateLimiterReset(t *testing.T) {
	limiter := newUploadRateLimiter(1, time.Minute)
	now := time.Now()

	if !limiter.Allow("host", now) {
		t.Fatal("first event blocked")
	}
	if limiter.Allow("host", now) {
		t.Fatal("second event allowed")
	}
	limiter.Reset("host")
	if !limiter.Allow("host", now) {
		t.Fatal("event blocked after reset")
	}
}
