package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

var (
	// ErrInvalidCredentials never says whether the identifier or the secret
	// was wrong.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	ErrCredentialInvalid = errors.New("credential_invalid")
	ErrCredentialExpired = errors.New("credential_expired")
	ErrCredentialRevoked = errors.New("credential_revoked")

	// ErrSecurityViolation means a consumed renewal credential came back.
	// By the time it is returned the chain has been revoked.
	ErrSecurityViolation = errors.New("security_violation")

	ErrRateLimited      = errors.New("rate_limited")
	ErrStoreUnavailable = errors.New("store_unavailable")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSessionNotFound  = errors.New("session_not_found")
)

// RateLimitError carries the delay a throttled caller should wait.
type RateLimitError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s policy, retry after %s", ErrRateLimited, e.Policy, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// unavailable logs the raw store error and hands back the sentinel callers
// are allowed to see.
func (s *SessionService) unavailable(ctx context.Context, op string, err error) error {
	slogx.FromContext(ctx).Error("store operation failed",
		slog.String("op", op),
		slog.Any("error", err),
	)
	s.Metrics.StoreFailure(op)
	return ErrStoreUnavailable
}
