package service

import (
	"context"

	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
)

// Presented is what a request carried. Bearer is the Authorization header
// credential, Cookie the legacy session cookie.
type Presented struct {
	Bearer string
	Cookie string
}

// AuthState tags an AuthResult.
type AuthState int

const (
	Anonymous AuthState = iota
	Authenticated
	Rejected
)

func (s AuthState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	default:
		return "anonymous"
	}
}

// AuthResult is exactly one of: Authenticated with Claims, Anonymous, or
// Rejected with Err.
type AuthResult struct {
	State  AuthState
	Claims jwtx.Claims
	Err    error
}

// Resolve picks one credential and authorizes it. The bearer header wins
// over the cookie; a request with neither is anonymous. A present but bad
// credential is rejected, never downgraded to anonymous.
func (s *SessionService) Resolve(ctx context.Context, p Presented) AuthResult {
	token := p.Bearer
	if token == "" {
		token = p.Cookie
	}
	if token == "" {
		return AuthResult{State: Anonymous}
	}

	claims, err := s.Authorize(ctx, token)
	if err != nil {
		return AuthResult{State: Rejected, Err: err}
	}
	return AuthResult{State: Authenticated, Claims: claims}
}
