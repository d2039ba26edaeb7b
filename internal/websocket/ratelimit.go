package websocket

import (
	"sync"
	"time"
)

// How long an empty, untouched window survives before the opportunistic GC
// drops it, expressed as a multiple of the sliding window.
const windowRetentionFactor = 5

type rateWindow struct {
	stamps   []time.Time
	lastSeen time.Time
}

// prune drops timestamps older than the trailing window
func (w *rateWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// SlidingWindowLimiter guards the per-identity message rate with a sliding
// window of recent timestamps. Windows are created lazily on first use,
// pruned on every call and garbage-collected once idle past retention, so
// memory stays bounded without a sweep goroutine.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow

	maxMessages int
	window      time.Duration
	lastGC      time.Time

	// injectable for tests
	now func() time.Time
}

func NewSlidingWindowLimiter(maxMessages int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		windows:     make(map[string]*rateWindow),
		maxMessages: maxMessages,
		window:      window,
		now:         time.Now,
	}
}

// Allow reports whether the identity may send another message right now. On
// allow the current timestamp is recorded against the window. On deny the
// second return value is the suggested retry-after: the time until the oldest
// in-window entry expires.
func (l *SlidingWindowLimiter) Allow(identity string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	w, ok := l.windows[identity]
	if !ok {
		w = &rateWindow{}
		l.windows[identity] = w
	}
	w.prune(cutoff)
	w.lastSeen = now

	l.maybeGC(now)

	if len(w.stamps) >= l.maxMessages {
		retryAfter := w.stamps[0].Add(l.window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	w.stamps = append(w.stamps, now)
	return true, 0
}

// Windows returns the number of tracked identities, for stats and tests
func (l *SlidingWindowLimiter) Windows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// maybeGC drops windows that have been empty and untouched past the
// retention period. Runs at most once per window interval and only scans the
// map it already holds the lock for.
func (l *SlidingWindowLimiter) maybeGC(now time.Time) {
	if now.Sub(l.lastGC) < l.window {
		return
	}
	l.lastGC = now

	retention := time.Duration(windowRetentionFactor) * l.window
	cutoff := now.Add(-l.window)
	for identity, w := range l.windows {
		w.prune(cutoff)
		if len(w.stamps) == 0 && now.Sub(w.lastSeen) > retention {
			delete(l.windows, identity)
		}
	}
}
