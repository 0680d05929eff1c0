package server

import (
	"sync"
	"time"
)

// uploadRateLimiter caps how many pieces one client may deliver inside a
// sliding window. A nil limiter allows everything.
type uploadRateLimiter struct {
	mu            sync.Mutex
	entries       map[string]rateLimitEntry
	maxEvents     int
	window        time.Duration
	staleAfter    time.Duration
	opCount       int
	cleanupEveryN int
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
	lastSeenAt  time.Time
}

func newUploadRateLimiter(maxEvents int, window time.Duration) *uploadRateLimiter {
	if maxEvents <= 0 || window <= 0 {
		return nil
	}
	staleAfter := window * 2
	if staleAfter < 10*time.Minute {
		staleAfter = 10 * time.Minute
	}
	return &uploadRateLimiter{
		entries:       make(map[string]rateLimitEntry),
		maxEvents:     maxEvents,
		window:        window,
		staleAfter:    staleAfter,
		cleanupEveryN: 64,
	}
}

// Allow records one event for key and reports whether it fits the window.
func (l *uploadRateLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entries[key]
	if entry.windowStart.IsZero() || now.Sub(entry.windowStart) > l.window {
		entry.count = 0
		entry.windowStart = now
	}
	entry.count++
	entry.lastSeenAt = now
	l.entries[key] = entry
	l.maybeCleanupLocked(now)

	return entry.count <= l.maxEvents
}

// Reset forgets a key's history.
func (l *uploadRateLimiter) Reset(key string) {
	if l == nil || key == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *uploadRateLimiter) maybeCleanupLocked(now time.Time) {
	l.opCount++
	if l.cleanupEveryN <= 0 {
		l.cleanupEveryN = 64
	}
	if l.opCount%l.cleanupEveryN != 0 {
		return
	}
	for key, entry := range l.entries {
		if entry.lastSeenAt.IsZero() || now.Sub(entry.lastSeenAt) > l.staleAfter {
			delete(l.entries, key)
		}
	}
}
