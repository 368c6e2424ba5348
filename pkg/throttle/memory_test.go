package throttle_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuardBoundary(t *testing.T) {
	clock := idx.NewFixed(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	g := throttle.NewMemoryGuard(clock.Now)
	ctx := context.Background()
	p := throttle.Policy{Name: "login", Max: 5, Window: 5 * time.Minute}

	for i := 1; i <= 5; i++ {
		d, err := g.Check(ctx, "k", p)
		require.NoError(t, err)
		require.True(t, d.Allowed, "hit %d", i)
		require.Equal(t, 5-i, d.Remaining)
	}

	clock.Advance(time.Minute)
	d, err := g.Check(ctx, "k", p)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 4*time.Minute, d.RetryAfter)

	// other keys are independent
	d, err = g.Check(ctx, "other", p)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(4 * time.Minute)
	d, err = g.Check(ctx, "k", p)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 4, d.Remaining)
}

func TestMemoryGuardRejectsBadPolicy(t *testing.T) {
	g := throttle.NewMemoryGuard(nil)
	_, err := g.Check(context.Background(), "k", throttle.Policy{Name: "zero"})
	require.ErrorIs(t, err, throttle.ErrInvalidPolicy)
}

func TestMemoryGuardCleanup(t *testing.T) {
	clock := idx.NewFixed(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	g := throttle.NewMemoryGuard(clock.Now)
	ctx := context.Background()
	p := throttle.Policy{Name: "renew", Max: 10, Window: time.Minute}

	for _, k := range []string{"a", "b", "c"} {
		_, err := g.Check(ctx, k, p)
		require.NoError(t, err)
	}
	require.Equal(t, 3, g.Len())

	clock.Advance(10 * time.Minute)
	_, err := g.Check(ctx, "d", p)
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
}

func TestMemoryGuardBucketCap(t *testing.T) {
	clock := idx.NewFixed(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	g := throttle.NewMemoryGuard(clock.Now)
	g.MaxBuckets = 2
	ctx := context.Background()
	p := throttle.Policy{Name: "login", Max: 3, Window: time.Minute}

	for _, key := range []string{"a", "b"} {
		d, err := g.Check(ctx, key, p)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// a fresh key has nowhere to go, tracked keys keep counting
	d, err := g.Check(ctx, "c", p)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, time.Minute, d.RetryAfter)
	require.Equal(t, 2, g.Len())

	d, err = g.Check(ctx, "a", p)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)

	clock.Advance(30 * time.Second)
	for i := 0; i < 100; i++ {
		d, err = g.Check(ctx, fmt.Sprintf("flood-%d", i), p)
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, 30*time.Second, d.RetryAfter)
	}
	require.Equal(t, 2, g.Len())

	clock.Advance(30 * time.Second)
	d, err = g.Check(ctx, "c", p)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, g.Len())
}

func TestMemoryGuardConcurrent(t *testing.T) {
	g := throttle.NewMemoryGuard(nil)
	p := throttle.Policy{Name: "login", Max: 5, Window: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.Check(context.Background(), "k", p)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, allowed)
}

func TestKey(t *testing.T) {
	require.Equal(t, "login|10.0.0.1|alice", throttle.Key("login", "10.0.0.1", "alice"))
	require.Equal(t, "renew|10.0.0.1", throttle.Key("renew", "10.0.0.1", ""))
}

func TestPolicyFromEnv(t *testing.T) {
	t.Setenv("THROTTLE_LOGIN_MAX", "3")
	t.Setenv("THROTTLE_LOGIN_WINDOW", "30s")

	p, err := throttle.PolicyFromEnv(throttle.LoginPolicy)
	require.NoError(t, err)
	require.Equal(t, 3, p.Max)
	require.Equal(t, 30*time.Second, p.Window)

	t.Setenv("THROTTLE_RENEW_MAX", "lots")
	_, err = throttle.PoliciesFromEnv()
	require.Error(t, err)
}
