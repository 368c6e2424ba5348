package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// renewBuffer renews the pair this long before the access credential expires.
const renewBuffer = 30 * time.Second

// ErrNoRenewal is returned when the access credential expired and the
// session holds no renewal credential (e.g. after Logout).
var ErrNoRenewal = errors.New("authsdk: access credential expired and no renewal credential available")

// Session represents an authenticated device session with automatic renewal.
type Session struct {
	client *SDKClient

	mu        sync.RWMutex
	access    string
	renewal   string
	sessionID string
	expiresAt time.Time
}

func newSession(client *SDKClient, pair *TokenPair) *Session {
	s := &Session{client: client}
	s.apply(pair)
	return s
}

// apply stores a freshly issued pair. Caller holds mu or owns s exclusively.
func (s *Session) apply(pair *TokenPair) {
	s.access = pair.Access
	s.renewal = pair.Renewal
	s.sessionID = pair.SessionID
	s.expiresAt = time.Now().Add(time.Duration(pair.ExpiresIn)*time.Second - renewBuffer)
}

// validToken returns a valid access credential, renewing if expired.
func (s *Session) validToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.access
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have renewed)
	if time.Now().Before(s.expiresAt) {
		return s.access, nil
	}

	if s.renewal == "" {
		return "", ErrNoRenewal
	}

	pair, err := s.client.Renew(ctx, s.renewal)
	if err != nil {
		return "", fmt.Errorf("failed to renew session: %w", err)
	}
	s.apply(pair)

	return s.access, nil
}

// Renew forces a renewal regardless of the access credential's expiry.
func (s *Session) Renew(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.renewal == "" {
		return ErrNoRenewal
	}

	pair, err := s.client.Renew(ctx, s.renewal)
	if err != nil {
		return err
	}
	s.apply(pair)
	return nil
}

// AccessToken returns the current access credential without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// RenewalToken returns the current renewal credential.
func (s *Session) RenewalToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renewal
}

// ID returns the server-side session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Me returns the claims of the current access credential.
func (s *Session) Me(ctx context.Context) (*MeResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}

	var me MeResponse
	if err := decodeJSON(resp, &me, http.StatusOK); err != nil {
		return nil, err
	}
	return &me, nil
}

// ListSessions returns the caller's active sessions.
func (s *Session) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/auth/sessions", nil)
	if err != nil {
		return nil, err
	}

	var out ListSessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// RevokeSession revokes one of the caller's sessions by id.
func (s *Session) RevokeSession(ctx context.Context, id string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/auth/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// RevokeOtherSessions revokes every session except this one and returns the
// number revoked.
func (s *Session) RevokeOtherSessions(ctx context.Context) (int, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/auth/sessions", nil)
	if err != nil {
		return 0, err
	}

	var out RevokeSessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

// Logout ends this session server-side and forgets both credentials. The
// server always answers 204, so only transport errors are returned.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	access := s.access
	s.access, s.renewal = "", ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	resp, err := s.client.doRequest(ctx, http.MethodPost, "/auth/logout", nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}
