package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		require.Equal(t, "192.168.1.1", httpx.ClientIP(req))
	})

	t.Run("ignores forwarding headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		req.Header.Set("X-Real-IP", "203.0.113.2")

		require.Equal(t, "192.168.1.1", httpx.ClientIP(req))
	})
}

func TestRealIP(t *testing.T) {
	trusted, err := httpx.ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    []string
		xri    string
		want   string
	}{
		{name: "untrusted peer spoofing X-Forwarded-For", remote: "198.51.100.7:4000", xff: []string{"203.0.113.1"}, want: "198.51.100.7"},
		{name: "untrusted peer spoofing X-Real-IP", remote: "198.51.100.7:4000", xri: "203.0.113.2", want: "198.51.100.7"},
		{name: "trusted proxy", remote: "10.1.2.3:4000", xff: []string{"203.0.113.1"}, want: "203.0.113.1"},
		{name: "client prepends a fake hop", remote: "10.1.2.3:4000", xff: []string{"1.2.3.4, 203.0.113.1"}, want: "203.0.113.1"},
		{name: "chain of trusted proxies", remote: "10.1.2.3:4000", xff: []string{"203.0.113.1, 192.168.1.1", "10.9.9.9"}, want: "203.0.113.1"},
		{name: "trusted proxy with X-Real-IP", remote: "192.168.1.1:4000", xri: "203.0.113.2", want: "203.0.113.2"},
		{name: "garbage from trusted proxy", remote: "10.1.2.3:4000", xff: []string{"not-an-ip"}, want: "10.1.2.3"},
		{name: "trusted proxy without headers", remote: "10.1.2.3:4000", want: "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := httpx.RealIP(trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = httpx.ClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			require.Equal(t, tt.want, got)
		})
	}
}

func TestRealIPWithoutTrustedProxies(t *testing.T) {
	var got string
	h := httpx.RealIP(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = httpx.ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "127.0.0.1", got)
}

func TestParseTrustedProxies(t *testing.T) {
	trusted, err := httpx.ParseTrustedProxies([]string{" 10.0.0.1/8 ", "", "::1"})
	require.NoError(t, err)
	require.Len(t, trusted, 2)
	require.Equal(t, "10.0.0.0/8", trusted[0].String())
	require.Equal(t, "::1/128", trusted[1].String())

	_, err = httpx.ParseTrustedProxies([]string{"10.0.0.0/33"})
	require.Error(t, err)
	_, err = httpx.ParseTrustedProxies([]string{"proxy.internal"})
	require.Error(t, err)
}

func TestDeviceName(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "curl/8.0")
	require.Equal(t, "curl/8.0", httpx.DeviceName(req))

	req.Header.Set(httpx.DeviceHeader, "Alice's phone")
	require.Equal(t, "Alice's phone", httpx.DeviceName(req))

	req.Header.Set(httpx.DeviceHeader, strings.Repeat("x", 1000))
	require.Len(t, httpx.DeviceName(req), 200)
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"Basic dXNlcjpwdw": "",
		"Bearer":           "",
		"Bearer   spaced ": "spaced",
	}

	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		require.Equal(t, want, httpx.BearerToken(req), "header %q", header)
	}
}

func TestCompositeKeyExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	key := httpx.CompositeKeyExtractor(httpx.EndpointKeyExtractor, httpx.IPKeyExtractor, httpx.SubjectKeyExtractor)(req)
	require.Equal(t, "GET /auth/sessions|192.168.1.1", key)
}
