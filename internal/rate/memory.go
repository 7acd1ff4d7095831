package rate

import (
	"sync"
	"time"
)

type window struct {
	hits    int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by caller-chosen strings, such as
// "ip:10.0.0.1" or "user:alice".
type Limiter struct {
	mu      sync.Mutex
	windows map[string]window
	nextGC  time.Time
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{windows: map[string]window{}, now: time.Now}
}

// Allow counts one event for key and reports whether it fits in the window.
func (l *Limiter) Allow(key string, limit int, per time.Duration) bool {
	ok, _ := l.Take(key, limit, per)
	return ok
}

// Take is Allow that also reports, on refusal, how long until key's window
// resets.
func (l *Limiter) Take(key string, limit int, per time.Duration) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.collect(now)

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = window{hits: 1, resetAt: now.Add(per)}
		return true, 0
	}
	if w.hits >= limit {
		return false, w.resetAt.Sub(now)
	}
	w.hits++
	l.windows[key] = w
	return true, 0
}

// Reset forgets key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// collect drops expired windows at most once a minute. Caller holds mu.
func (l *Limiter) collect(now time.Time) {
	if now.Before(l.nextGC) {
		return
	}
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
	l.nextGC = now.Add(time.Minute)
}
