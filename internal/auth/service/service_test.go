package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	aliceSecret = "correct horse battery staple"
	bobSecret   = "tr0ub4dor&3"
)

var device = DeviceContext{Device: "laptop", Network: "203.0.113.7"}

type fixture struct {
	svc   *SessionService
	store store.Store
	clock *idx.Fixed
	users *UserAuthenticator
	path  string
}

func testCodec(t *testing.T) *jwtx.Codec {
	t.Helper()
	codec, err := jwtx.NewCodec(jwtx.CodecConfig{
		AccessSecret:  []byte("access-secret-access-secret-0123456789"),
		RenewalSecret: []byte("renewal-secret-renewal-secret-0123456789"),
		Issuer:        "sessionguard-test",
		Audience:      []string{"api"},
	})
	require.NoError(t, err)
	return codec
}

func newFixtureAt(t *testing.T, path string, mutate ...func(*Options)) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(sqlite.DSN(path))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	f := newFixtureOn(t, st, mutate...)
	f.path = path
	return f
}

// newFixtureOn builds a service over an already migrated store.
func newFixtureOn(t *testing.T, st store.Store, mutate ...func(*Options)) *fixture {
	t.Helper()

	clock := idx.NewFixed(t0)
	users := &UserAuthenticator{Store: st, Hasher: cryptox.NewHasher([]byte("pepper")), Clock: clock}
	audit := NewAuditLog(st, clock, slogx.Discard(), nil, 64, time.Second)
	t.Cleanup(func() { _ = audit.Close(context.Background()) })

	opts := Options{
		Codec:         testCodec(t),
		Store:         st,
		Clock:         clock,
		Authenticator: users,
		Audit:         audit,
	}
	for _, m := range mutate {
		m(&opts)
	}

	return &fixture{svc: NewSessionService(opts), store: st, clock: clock, users: users}
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	return newFixtureAt(t, filepath.Join(t.TempDir(), "auth.db"), mutate...)
}

func (f *fixture) enroll(t *testing.T, identifier, secret string) domain.User {
	t.Helper()
	u, err := f.users.Enroll(context.Background(), identifier, identifier, secret)
	require.NoError(t, err)
	return u
}

func (f *fixture) login(t *testing.T, identifier, secret string) domain.TokenPair {
	t.Helper()
	pair, err := f.svc.Login(context.Background(), LoginRequest{Identifier: identifier, Secret: secret, DeviceContext: device})
	require.NoError(t, err)
	return pair
}

func TestLoginIssuesPairAndSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.enroll(t, "alice", aliceSecret)

	pair := f.login(t, "alice", aliceSecret)
	require.Equal(t, "Bearer", pair.TokenType)
	require.NotEmpty(t, pair.SessionID)
	require.True(t, pair.AccessExpiresAt.Equal(t0.Add(jwtx.DefaultAccessTokenTTL)))

	claims, err := f.svc.Authorize(ctx, pair.Access)
	require.NoError(t, err)
	require.Equal(t, alice.ID, claims.Subject)
	require.Equal(t, pair.SessionID, claims.SID)
	require.Equal(t, "alice", claims.Username)
	require.Empty(t, claims.ChainID)

	renewal, err := f.svc.Codec.Verify(pair.Renewal, jwtx.KindRenewal, t0)
	require.NoError(t, err)
	require.NotEmpty(t, renewal.ChainID)
	require.Empty(t, renewal.ParentCID)

	sessions, err := f.svc.ListSessions(ctx, alice.ID, pair.SessionID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.True(t, sessions[0].Current)
	require.Equal(t, "laptop", sessions[0].Device)
	require.Equal(t, renewal.CID(), sessions[0].CurrentCID)
}

func TestLoginDoesNotRevealWhichPartWasWrong(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)

	_, wrongSecret := f.svc.Login(ctx, LoginRequest{Identifier: "alice", Secret: "nope"})
	_, unknownUser := f.svc.Login(ctx, LoginRequest{Identifier: "mallory", Secret: aliceSecret})
	_, empty := f.svc.Login(ctx, LoginRequest{})

	require.ErrorIs(t, wrongSecret, ErrInvalidCredentials)
	require.Equal(t, wrongSecret, unknownUser)
	require.Equal(t, wrongSecret, empty)
}

func TestRenewRotatesWithinChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	first := f.login(t, "alice", aliceSecret)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Renew(ctx, first.Renewal, device)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	old, err := f.svc.Codec.Verify(first.Renewal, jwtx.KindRenewal, f.clock.Now())
	require.NoError(t, err)
	next, err := f.svc.Codec.Verify(second.Renewal, jwtx.KindRenewal, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, old.ChainID, next.ChainID)
	require.Equal(t, old.CID(), next.ParentCID)

	rv, ok, err := f.svc.Revocations().Lookup(ctx, old.CID())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.ReasonRotated, rv.Reason)

	consumed, err := f.svc.Rotations().IsConsumed(ctx, old.CID())
	require.NoError(t, err)
	require.True(t, consumed)

	sess, err := f.svc.Sessions().ByChain(ctx, next.ChainID)
	require.NoError(t, err)
	require.Equal(t, next.CID(), sess.CurrentCID)
	require.True(t, sess.LastSeenAt.Equal(t0.Add(time.Minute)))
	require.True(t, sess.CreatedAt.Equal(t0))
}

func TestReuseAfterOneRenewalRevokesChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)

	first := f.login(t, "alice", aliceSecret)
	second, err := f.svc.Renew(ctx, first.Renewal, device)
	require.NoError(t, err)

	_, err = f.svc.Renew(ctx, first.Renewal, device)
	require.ErrorIs(t, err, ErrSecurityViolation)

	_, err = f.svc.Authorize(ctx, second.Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)
	_, err = f.svc.Authorize(ctx, first.Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)

	_, err = f.svc.Renew(ctx, second.Renewal, device)
	require.ErrorIs(t, err, ErrCredentialRevoked)

	// the replayed credential keeps being treated as reuse
	_, err = f.svc.Renew(ctx, first.Renewal, device)
	require.ErrorIs(t, err, ErrSecurityViolation)

	claims, err := f.svc.Codec.Verify(first.Access, jwtx.KindAccess, t0)
	require.NoError(t, err)
	sessions, err := f.svc.ListSessions(ctx, claims.Subject, "")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestConcurrentRenewalHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)

	const n = 6
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		winners    []domain.TokenPair
		violations int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.Renew(ctx, pair.Renewal, device)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, got)
			case errors.Is(err, ErrSecurityViolation):
				violations++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, n-1, violations)

	// the loser's reuse response took the winner's pair down too
	_, err := f.svc.Authorize(ctx, winners[0].Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)
	_, err = f.svc.Renew(ctx, winners[0].Renewal, device)
	require.ErrorIs(t, err, ErrCredentialRevoked)
}

func TestChainLineageAfterRenewals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)

	pair := f.login(t, "alice", aliceSecret)
	root, err := f.svc.Codec.Verify(pair.Renewal, jwtx.KindRenewal, t0)
	require.NoError(t, err)

	const renewals = 5
	for range renewals {
		f.clock.Advance(time.Second)
		pair, err = f.svc.Renew(ctx, pair.Renewal, device)
		require.NoError(t, err)
	}

	newest, err := f.svc.Codec.Verify(pair.Renewal, jwtx.KindRenewal, f.clock.Now())
	require.NoError(t, err)

	lineage, err := f.svc.Rotations().Lineage(ctx, newest.CID())
	require.NoError(t, err)
	require.Len(t, lineage, renewals+1)
	require.Equal(t, newest.CID(), lineage[0])
	require.Equal(t, root.CID(), lineage[renewals])

	chain, err := f.svc.Rotations().Chain(ctx, root.ChainID)
	require.NoError(t, err)
	require.Len(t, chain, renewals+1)
}

func TestRenewRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)

	t.Run("garbage", func(t *testing.T) {
		_, err := f.svc.Renew(ctx, "not-a-token", device)
		require.ErrorIs(t, err, ErrCredentialInvalid)
	})

	t.Run("access credential", func(t *testing.T) {
		_, err := f.svc.Renew(ctx, pair.Access, device)
		require.ErrorIs(t, err, ErrCredentialInvalid)
	})

	t.Run("signed but never recorded", func(t *testing.T) {
		token, _, err := f.svc.Codec.Issue(jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "someone"},
			ChainID:          "chain-x",
		}, jwtx.KindRenewal, t0)
		require.NoError(t, err)
		_, err = f.svc.Renew(ctx, token, device)
		require.ErrorIs(t, err, ErrCredentialInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(jwtx.DefaultRenewalTokenTTL + time.Second)
		defer f.clock.Set(t0)
		_, err := f.svc.Renew(ctx, pair.Renewal, device)
		require.ErrorIs(t, err, ErrCredentialExpired)
	})
}

func TestLogoutThenAuthorize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)

	f.svc.Logout(ctx, pair.Access, device)

	_, err := f.svc.Authorize(ctx, pair.Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)
	_, err = f.svc.Renew(ctx, pair.Renewal, device)
	require.ErrorIs(t, err, ErrCredentialRevoked)

	// repeated or garbage logouts are silent
	f.svc.Logout(ctx, pair.Access, device)
	f.svc.Logout(ctx, "garbage", device)
	f.svc.Logout(ctx, "", device)
}

func TestRevocationSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth.db")

	f := newFixtureAt(t, path)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)
	f.svc.Logout(ctx, pair.Access, device)
	require.NoError(t, f.svc.Audit.Close(ctx))
	require.NoError(t, f.store.Close())

	restarted := newFixtureAt(t, path)
	_, err := restarted.svc.Authorize(ctx, pair.Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)
}

func TestRevokeOtherSessionsKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.enroll(t, "alice", aliceSecret)

	a := f.login(t, "alice", aliceSecret)
	b := f.login(t, "alice", aliceSecret)

	n, err := f.svc.RevokeOtherSessions(ctx, alice.ID, a.SessionID, device)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.svc.Authorize(ctx, a.Access)
	require.NoError(t, err)
	_, err = f.svc.Renew(ctx, a.Renewal, device)
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, b.Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)
	_, err = f.svc.Renew(ctx, b.Renewal, device)
	require.ErrorIs(t, err, ErrCredentialRevoked)

	sessions, err := f.svc.ListSessions(ctx, alice.ID, a.SessionID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, a.SessionID, sessions[0].ID)
	require.True(t, sessions[0].Current)
}

func TestRevokeSessionIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.enroll(t, "alice", aliceSecret)
	bob := f.enroll(t, "bob", bobSecret)

	a := f.login(t, "alice", aliceSecret)

	err := f.svc.RevokeSession(ctx, bob.ID, a.SessionID, device)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.Authorize(ctx, a.Access)
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeSession(ctx, alice.ID, a.SessionID, device))
	_, err = f.svc.Authorize(ctx, a.Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)

	err = f.svc.RevokeSession(ctx, alice.ID, a.SessionID, device)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReuseCanRevokeEverySession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.ReuseRevokesAllSessions = true })
	f.enroll(t, "alice", aliceSecret)

	a := f.login(t, "alice", aliceSecret)
	b := f.login(t, "alice", aliceSecret)

	_, err := f.svc.Renew(ctx, a.Renewal, device)
	require.NoError(t, err)
	_, err = f.svc.Renew(ctx, a.Renewal, device)
	require.ErrorIs(t, err, ErrSecurityViolation)

	_, err = f.svc.Authorize(ctx, b.Access)
	require.ErrorIs(t, err, ErrCredentialRevoked)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)

	_, err := f.svc.Authorize(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Authorize(ctx, pair.Renewal)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Authorize(ctx, pair.Access+"x")
	require.ErrorIs(t, err, ErrUnauthorized)

	f.clock.Advance(jwtx.DefaultAccessTokenTTL)
	_, err = f.svc.Authorize(ctx, pair.Access)
	require.ErrorIs(t, err, ErrCredentialExpired)
}

func TestAuthorizeFailsClosedWithoutStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)

	require.NoError(t, f.svc.Audit.Close(ctx))
	require.NoError(t, f.store.Close())

	_, err := f.svc.Authorize(ctx, pair.Access)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = f.svc.Renew(ctx, pair.Renewal, device)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestLoginThrottle(t *testing.T) {
	ctx := context.Background()
	var clock *idx.Fixed
	f := newFixture(t, func(o *Options) {
		clock = o.Clock.(*idx.Fixed)
		o.Guard = throttle.NewMemoryGuard(clock.Now)
		o.Policies = throttle.DefaultPolicies()
		o.Policies.Login = throttle.Policy{Name: "login", Max: 2, Window: time.Minute}
	})

	req := LoginRequest{Identifier: "alice", Secret: "wrong", DeviceContext: device}
	for range 2 {
		_, err := f.svc.Login(ctx, req)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, req)
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	require.Equal(t, time.Minute, rl.RetryAfter)

	// a different network is a different bucket
	other := req
	other.Network = "198.51.100.1"
	_, err = f.svc.Login(ctx, other)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	clock.Advance(time.Minute)
	_, err = f.svc.Login(ctx, req)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

type failingGuard struct{}

func (failingGuard) Check(context.Context, string, throttle.Policy) (throttle.Decision, error) {
	return throttle.Decision{}, errors.New("redis down")
}

func TestThrottleFailsOpen(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Guard = failingGuard{} })
	f.enroll(t, "alice", aliceSecret)
	f.login(t, "alice", aliceSecret)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.enroll(t, "alice", aliceSecret)

	_, err := f.svc.Login(ctx, LoginRequest{Identifier: "alice", Secret: "wrong", DeviceContext: device})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	pair := f.login(t, "alice", aliceSecret)
	_, err = f.svc.Renew(ctx, pair.Renewal, device)
	require.NoError(t, err)
	_, err = f.svc.Renew(ctx, pair.Renewal, device)
	require.ErrorIs(t, err, ErrSecurityViolation)

	require.NoError(t, f.svc.Audit.Close(ctx))

	events, err := f.store.Audit().ListBySubject(ctx, alice.ID, 10)
	require.NoError(t, err)

	types := map[domain.AuditEventType]int{}
	for _, e := range events {
		types[e.Type]++
		require.Equal(t, device.Network, e.Network)
	}
	require.Equal(t, 1, types[domain.AuditLoginSuccess])
	require.Equal(t, 1, types[domain.AuditRenewalSuccess])
	require.Equal(t, 1, types[domain.AuditReuseDetected])

	// failed logins are filed under the attempted identifier, not a subject
	anon, err := f.store.Audit().ListBySubject(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, anon, 1)
	require.Equal(t, domain.AuditLoginFailed, anon[0].Type)
	require.Equal(t, "alice", anon[0].Identifier)
}

func TestAuditIgnoresEventsAfterClose(t *testing.T) {
	f := newFixture(t)
	audit := NewAuditLog(f.store, f.clock, slogx.Discard(), nil, 1, time.Second)
	require.NoError(t, audit.Close(context.Background()))

	// closed log ignores events instead of panicking
	audit.Record(context.Background(), domain.AuditEvent{Type: domain.AuditLogout})
}

func TestResolvePrecedence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)

	res := f.svc.Resolve(ctx, Presented{})
	require.Equal(t, Anonymous, res.State)

	res = f.svc.Resolve(ctx, Presented{Bearer: pair.Access, Cookie: "junk"})
	require.Equal(t, Authenticated, res.State)
	require.Equal(t, pair.SessionID, res.Claims.SID)

	res = f.svc.Resolve(ctx, Presented{Cookie: pair.Access})
	require.Equal(t, Authenticated, res.State)

	res = f.svc.Resolve(ctx, Presented{Bearer: "junk", Cookie: pair.Access})
	require.Equal(t, Rejected, res.State)
	require.ErrorIs(t, res.Err, ErrUnauthorized)
}

func TestHousekeepingSweepsExpiredRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "alice", aliceSecret)
	pair := f.login(t, "alice", aliceSecret)
	_, err := f.svc.Renew(ctx, pair.Renewal, device)
	require.NoError(t, err)

	hk := NewHousekeepingService(f.svc, slogx.Discard(), time.Hour)

	res := hk.Sweep(ctx)
	require.Zero(t, res.Revocations)
	require.Zero(t, res.Sessions)

	f.clock.Advance(jwtx.DefaultRenewalTokenTTL + time.Minute)
	res = hk.Sweep(ctx)
	require.Equal(t, int64(1), res.Revocations)
	require.Equal(t, int64(2), res.Rotations)
	require.Equal(t, int64(1), res.Sessions)
}
