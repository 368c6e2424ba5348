package http_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	authhttp "github.com/aussiebroadwan/sessionguard/internal/auth/http"
	"github.com/aussiebroadwan/sessionguard/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"
)

const (
	testIdentifier = "alice"
	testSecret     = "correct horse battery staple"
)

type testServer struct {
	URL    string
	client *authsdk.SDKClient
	store  *sqlite.Store
}

func newTestServer(t *testing.T, mutate ...func(*service.Options)) *testServer {
	t.Helper()
	return newTestServerTrusting(t, nil, mutate...)
}

func newTestServerTrusting(t *testing.T, trusted httpx.TrustedProxies, mutate ...func(*service.Options)) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(sqlite.DSN(filepath.Join(t.TempDir(), "auth.db")))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	codec, err := jwtx.NewCodec(jwtx.CodecConfig{
		AccessSecret:  []byte("http-access-secret-0123456789abcdef"),
		RenewalSecret: []byte("http-renewal-secret-0123456789abcdef"),
		Issuer:        "sessionguard-test",
	})
	require.NoError(t, err)

	clock := idx.System{}
	users := &service.UserAuthenticator{Store: st, Hasher: cryptox.NewHasher(nil), Clock: clock}
	_, err = users.Enroll(context.Background(), testIdentifier, "Alice", testSecret)
	require.NoError(t, err)

	opts := service.Options{
		Codec:         codec,
		Store:         st,
		Clock:         clock,
		Authenticator: users,
		Metrics:       metrics.New(),
	}
	for _, m := range mutate {
		m(&opts)
	}

	router := authhttp.NewRouter(service.NewSessionService(opts), "test", slogx.Discard())
	router.TrustProxies(trusted)
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{URL: srv.URL, client: authsdk.NewSDKClient(srv.URL), store: st}
}

func (s *testServer) login(t *testing.T, device string) *authsdk.Session {
	t.Helper()
	c := authsdk.NewSDKClient(s.URL)
	c.Device = device
	sess, err := c.Login(context.Background(), testIdentifier, testSecret)
	require.NoError(t, err)
	return sess
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, s.URL+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func requireAPIError(t *testing.T, err error, want *authsdk.APIError) *authsdk.APIError {
	t.Helper()
	require.ErrorIs(t, err, want)
	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, want.StatusCode, apiErr.StatusCode)
	return apiErr
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	pair, err := s.client.LoginPair(context.Background(), testIdentifier, testSecret)
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, 900, pair.ExpiresIn)
	require.Equal(t, 7*24*3600, pair.RenewalExpiresIn)
	require.NotEmpty(t, pair.SessionID)

	me, err := s.client.NewSessionFromTokens(*pair).Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, pair.SessionID, me.SessionID)
	require.Equal(t, testIdentifier, me.Username)
	require.Equal(t, "Alice", me.PreferredName)
}

func TestLoginFailures(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.client.LoginPair(ctx, testIdentifier, "wrong")
	requireAPIError(t, err, authsdk.ErrInvalidCredentials)

	_, err = s.client.LoginPair(ctx, "nobody", testSecret)
	requireAPIError(t, err, authsdk.ErrInvalidCredentials)

	resp := s.do(t, http.MethodPost, "/auth/login",
		strings.NewReader(`{"identifier":"alice","secret":"x","extra":1}`), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRenewReuseIsRejected(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	first, err := s.client.LoginPair(ctx, testIdentifier, testSecret)
	require.NoError(t, err)
	second, err := s.client.Renew(ctx, first.Renewal)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	_, err = s.client.Renew(ctx, first.Renewal)
	requireAPIError(t, err, authsdk.ErrSecurityViolation)

	_, err = s.client.NewSessionFromTokens(*second).Me(ctx)
	requireAPIError(t, err, authsdk.ErrCredentialRevoked)

	_, err = s.client.Renew(ctx, second.Renewal)
	requireAPIError(t, err, authsdk.ErrCredentialRevoked)

	_, err = s.client.Renew(ctx, "garbage")
	requireAPIError(t, err, authsdk.ErrCredentialInvalid)
}

func TestLogoutAlwaysNoContent(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/auth/logout", nil, http.Header{"Authorization": {"Bearer junk"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	sess := s.login(t, "laptop")
	access := sess.AccessToken()
	require.NoError(t, sess.Logout(context.Background()))

	resp = s.do(t, http.MethodGet, "/auth/me", nil, http.Header{"Authorization": {"Bearer " + access}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, `Bearer error="credential_revoked"`, resp.Header.Get("WWW-Authenticate"))
}

func TestSessionSelfService(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	laptop := s.login(t, "laptop")
	phone := s.login(t, "phone")

	sessions, err := laptop.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, si := range sessions {
		require.Equal(t, si.ID == laptop.ID(), si.Current)
		require.Contains(t, []string{"laptop", "phone"}, si.Device)
		require.Equal(t, "127.0.0.1", si.Network)
	}

	err = laptop.RevokeSession(ctx, "no-such-session")
	requireAPIError(t, err, authsdk.ErrNotFound)

	n, err := laptop.RevokeOtherSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = phone.Me(ctx)
	requireAPIError(t, err, authsdk.ErrCredentialRevoked)

	sessions, err = laptop.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.True(t, sessions[0].Current)

	require.NoError(t, laptop.RevokeSession(ctx, laptop.ID()))
	_, err = laptop.Me(ctx)
	requireAPIError(t, err, authsdk.ErrCredentialRevoked)
}

func TestSessionsRequireAuth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/auth/sessions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, `Bearer error="unauthorized"`, resp.Header.Get("WWW-Authenticate"))

	resp = s.do(t, http.MethodDelete, "/auth/sessions", nil, http.Header{"Authorization": {"Bearer junk"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMeCredentialPrecedence(t *testing.T) {
	s := newTestServer(t)
	access := s.login(t, "browser").AccessToken()
	cookie := authhttp.SessionCookie + "=" + access

	resp := s.do(t, http.MethodGet, "/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/auth/me", nil, http.Header{"Cookie": {cookie}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// a bad bearer is not rescued by a good cookie
	resp = s.do(t, http.MethodGet, "/auth/me", nil, http.Header{
		"Cookie":        {cookie},
		"Authorization": {"Bearer junk"},
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginThrottled(t *testing.T) {
	s := newTestServer(t, func(o *service.Options) {
		o.Guard = throttle.NewMemoryGuard(nil)
		o.Policies = throttle.DefaultPolicies()
		o.Policies.Login = throttle.Policy{Name: "login", Max: 2, Window: time.Minute}
	})
	ctx := context.Background()

	for range 2 {
		_, err := s.client.LoginPair(ctx, testIdentifier, "wrong")
		requireAPIError(t, err, authsdk.ErrInvalidCredentials)
	}

	_, err := s.client.LoginPair(ctx, testIdentifier, testSecret)
	apiErr := requireAPIError(t, err, authsdk.ErrRateLimited)
	require.Positive(t, apiErr.RetryAfter)
	require.LessOrEqual(t, apiErr.RetryAfter, time.Minute)
}

func TestStoreOutageFailsClosed(t *testing.T) {
	s := newTestServer(t)
	sess := s.login(t, "laptop")

	require.NoError(t, s.store.Close())

	_, err := sess.Me(context.Background())
	requireAPIError(t, err, authsdk.ErrStoreUnavailable)

	_, err = s.client.GetReadiness(context.Background())
	require.ErrorIs(t, err, authsdk.ErrServerError)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	live, err := s.client.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	ready, err := s.client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.Database)

	s.login(t, "laptop")

	resp := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `sessionguard_auth_events_total{operation="login",outcome="success"} 1`)
}

// forwardedFor claims every request was forwarded on behalf of addr.
type forwardedFor string

func (f forwardedFor) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-Forwarded-For", string(f))
	return http.DefaultTransport.RoundTrip(r)
}

func TestSessionNetworkHonoursOnlyTrustedProxies(t *testing.T) {
	loopback, err := httpx.ParseTrustedProxies([]string{"127.0.0.0/8", "::1"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trusted httpx.TrustedProxies
		want    string
	}{
		{name: "spoofed header from untrusted peer", trusted: nil, want: "127.0.0.1"},
		{name: "header from trusted proxy", trusted: loopback, want: "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServerTrusting(t, tt.trusted)

			c := authsdk.NewSDKClient(s.URL)
			c.HTTPClient.Transport = forwardedFor("203.0.113.9")
			sess, err := c.Login(context.Background(), testIdentifier, testSecret)
			require.NoError(t, err)

			sessions, err := sess.ListSessions(context.Background())
			require.NoError(t, err)
			require.Len(t, sessions, 1)
			require.Equal(t, tt.want, sessions[0].Network)
		})
	}
}
