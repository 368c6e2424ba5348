package slogx

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Sampler rate-limits a noisy log line, e.g. a dependency that keeps failing
// on every request. The first call always logs.
type Sampler struct {
	s rate.Sometimes
}

// NewSampler logs at most once per interval.
func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{s: rate.Sometimes{First: 1, Interval: interval}}
}

// Warn logs msg through the context logger if the sampler allows it.
func (s *Sampler) Warn(ctx context.Context, msg string, args ...any) {
	s.s.Do(func() {
		FromContext(ctx).Warn(msg, args...)
	})
}
