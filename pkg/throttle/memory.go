package throttle

import (
	"context"
	"sync"
	"time"
)

const defaultCleanupEvery = 5 * time.Minute

// DefaultMaxBuckets bounds how many keys a MemoryGuard tracks at once.
const DefaultMaxBuckets = 100_000

type bucket struct {
	start  time.Time
	window time.Duration
	count  int
}

// MemoryGuard keeps one fixed-window counter per key in process memory.
// Counts are per instance, so N replicas allow up to N times the policy.
type MemoryGuard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	// MaxBuckets caps the tracked keys. At the cap a new key is denied until
	// some window closes; keys already tracked carry on as usual. Zero or
	// less disables the cap.
	MaxBuckets int

	cleanupEvery time.Duration
	lastCleanup  time.Time
	nextExpiry   time.Time // earliest window end seen by the last sweep
}

// NewMemoryGuard returns an empty guard. now may be nil to use the wall clock.
func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{
		buckets:      make(map[string]*bucket),
		now:          now,
		MaxBuckets:   DefaultMaxBuckets,
		cleanupEvery: defaultCleanupEvery,
		lastCleanup:  now(),
	}
}

func (g *MemoryGuard) Check(_ context.Context, key string, p Policy) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.maybeCleanup(now)

	b, ok := g.buckets[key]
	if !ok && g.full(now) {
		return Decision{Allowed: false, RetryAfter: retryAfter(g.nextExpiry.Sub(now))}, nil
	}
	if !ok || !now.Before(b.start.Add(b.window)) {
		b = &bucket{start: now, window: p.Window}
		g.buckets[key] = b
	}
	b.count++

	if b.count > p.Max {
		return Decision{Allowed: false, RetryAfter: retryAfter(b.start.Add(b.window).Sub(now))}, nil
	}

	return Decision{Allowed: true, Remaining: p.Max - b.count}, nil
}

// Len reports the number of tracked keys.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buckets)
}

// maybeCleanup sweeps at most once per cleanupEvery. Caller holds mu.
func (g *MemoryGuard) maybeCleanup(now time.Time) {
	if now.Sub(g.lastCleanup) < g.cleanupEvery {
		return
	}
	g.sweep(now)
}

// full reports whether a new key would exceed MaxBuckets, sweeping first if
// a window may have closed since the last sweep. Caller holds mu.
func (g *MemoryGuard) full(now time.Time) bool {
	if g.MaxBuckets <= 0 || len(g.buckets) < g.MaxBuckets {
		return false
	}
	if now.Before(g.nextExpiry) {
		return true
	}
	g.sweep(now)
	return len(g.buckets) >= g.MaxBuckets
}

// sweep drops buckets whose window has closed and records when the next one
// closes. Caller holds mu.
func (g *MemoryGuard) sweep(now time.Time) {
	g.lastCleanup = now
	g.nextExpiry = time.Time{}

	for k, b := range g.buckets {
		end := b.start.Add(b.window)
		if !now.Before(end) {
			delete(g.buckets, k)
			continue
		}
		if g.nextExpiry.IsZero() || end.Before(g.nextExpiry) {
			g.nextExpiry = end
		}
	}
}

func retryAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
