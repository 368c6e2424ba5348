package idx

import (
	"sync"
	"time"
)

// Source supplies the current time and fresh identifiers. Every component
// that stamps or names something takes a Source so tests can pin both.
type Source interface {
	Now() time.Time
	New() ID
}

// System is the production Source: wall clock in UTC and monotonic ULIDs.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }
func (System) New() ID        { return New() }

// Fixed is a manually advanced Source for tests. IDs are still unique ULIDs
// stamped with the fixed time.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a Fixed source starting at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) New() ID {
	return NewAt(f.Now())
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set pins the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
