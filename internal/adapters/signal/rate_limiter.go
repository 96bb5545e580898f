package signal

import (
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between purges of idle keys.
const sweepEvery = 256

// JoinLimiter is a sliding window limiter keyed by caller, usually the remote IP.
// Keys with no attempt inside the window are purged periodically.
type JoinLimiter struct {
	mu       sync.Mutex
	window   map[string][]time.Time
	limit    int
	interval time.Duration
	calls    int
	now      func() time.Time
}

func NewJoinLimiter(limit int, interval time.Duration) *JoinLimiter {
	return &JoinLimiter{
		window:   make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt by key. A limit <= 0 disables limiting.
func (l *JoinLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.interval)
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	recent := trim(l.window[key], cutoff)
	if len(recent) >= l.limit {
		l.window[key] = recent
		return false
	}
	l.window[key] = append(recent, now)
	return true
}

// Keys reports how many callers are currently tracked.
func (l *JoinLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.window)
}

// sweep must be called with l.mu held.
func (l *JoinLimiter) sweep(cutoff time.Time) {
	for key, attempts := range l.window {
		if len(trim(attempts, cutoff)) == 0 {
			delete(l.window, key)
		}
	}
}

// trim drops attempts at or before cutoff. attempts is in arrival order.
func trim(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	return attempts[i:]
}
