package security

import (
	"sync"
	"time"
)

// RateLimiter enforces a fixed-window request budget per caller.
// Within any single window exactly limit requests are admitted; the
// next request is denied until the window rolls over, at which point
// the counter resets in full.
//
// Denied requests still count against nothing: only admitted requests
// consume budget, so hammering a limited caller does not extend the
// lockout past the window boundary.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	callers map[string]*rateWindow

	lastSweep time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// rateWindow tracks one caller's current window.
type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter admitting limit requests per caller
// per window. Values below one are clamped to one.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &RateLimiter{
		limit:   limit,
		window:  window,
		callers: make(map[string]*rateWindow),
		now:     time.Now,
	}
	l.lastSweep = l.now()
	return l
}

// Allow reports whether callerID may proceed and, if so, consumes one
// unit of its budget. Unknown callers start a fresh window.
func (l *RateLimiter) Allow(callerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	w, ok := l.callers[callerID]
	if !ok || now.Sub(w.start) >= l.window {
		l.callers[callerID] = &rateWindow{start: now, count: 1}
		return true
	}

	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining returns the unused budget in callerID's current window.
func (l *RateLimiter) Remaining(callerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.callers[callerID]
	if !ok || l.now().Sub(w.start) >= l.window {
		return l.limit
	}
	if w.count >= l.limit {
		return 0
	}
	return l.limit - w.count
}

// sweep drops entries whose window expired at least one full window
// ago. Running inline on Allow keeps the map bounded without a
// background goroutine. Caller must hold mu.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for id, w := range l.callers {
		if now.Sub(w.start) >= 2*l.window {
			delete(l.callers, id)
		}
	}
	l.lastSweep = now
}
