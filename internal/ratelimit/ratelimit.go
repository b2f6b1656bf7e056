// Package ratelimit implements a per-key sliding-window request limiter for
// the gateway's HTTP boundary. Each key keeps a deque of request timestamps;
// entries older than the window are evicted lazily on the next Allow call, so
// no background sweep is required for correctness.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window holds the sliding-window state for one key. Its own mutex keeps
// contention per key rather than across the whole limiter.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	head   int // index of the oldest live stamp
}

// Limiter tracks sliding windows per key. Safe for concurrent use.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *Limiter) get(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

// Allow reports whether one more request for key fits inside the sliding
// window, recording it when it does. Amortized O(1) per call: eviction only
// advances past stamps that have already aged out, and each stamp is evicted
// exactly once.
func (l *Limiter) Allow(key string, limit int, windowDur time.Duration) bool {
	if limit <= 0 || windowDur <= 0 {
		return false
	}

	w := l.get(key)
	now := l.now()
	cutoff := now.Add(-windowDur)

	w.mu.Lock()
	defer w.mu.Unlock()

	for w.head < len(w.stamps) && !w.stamps[w.head].After(cutoff) {
		w.head++
	}
	// Compact once the dead prefix dominates, keeping memory bounded.
	if w.head > 0 && w.head >= len(w.stamps)/2 {
		w.stamps = append(w.stamps[:0], w.stamps[w.head:]...)
		w.head = 0
	}

	if len(w.stamps)-w.head >= limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Sweep drops keys whose newest request is older than olderThan and returns
// how many were removed. Optional housekeeping for long-running processes;
// Allow alone maintains the window invariant.
func (l *Limiter) Sweep(olderThan time.Duration) int {
	cutoff := l.now().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		idle := len(w.stamps) == 0 || w.stamps[len(w.stamps)-1].Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Class configures one endpoint group's limit.
type Class struct {
	Limit  int
	Window time.Duration
}

// ClassLimiter applies named limit classes (general, webhook, test) on top of
// a shared Limiter. Keys are namespaced per class so the same client identity
// is counted independently per endpoint group.
type ClassLimiter struct {
	limiter *Limiter
	classes map[string]Class
}

func NewClassLimiter(classes map[string]Class) *ClassLimiter {
	return &ClassLimiter{
		limiter: New(),
		classes: classes,
	}
}

// Allow checks the class limit for the given client identity. Unknown
// classes are unlimited; misconfiguration should not lock clients out.
func (c *ClassLimiter) Allow(class, identity string) bool {
	cl, ok := c.classes[class]
	if !ok {
		return true
	}
	return c.limiter.Allow(class+":"+identity, cl.Limit, cl.Window)
}

// Sweep forwards to the underlying limiter.
func (c *ClassLimiter) Sweep(olderThan time.Duration) int {
	return c.limiter.Sweep(olderThan)
}

// SweepLoop runs Sweep every interval until ctx is cancelled. The webhook
// path consumes a limiter key per requested platform name before any
// authentication, so without periodic sweeping an unauthenticated caller
// could grow the key set without bound.
func (c *ClassLimiter) SweepLoop(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(olderThan)
		}
	}
}
