package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

// apiError maps a service error onto the public catalog. Anything it does
// not recognise becomes server_error so internal detail never leaks.
func apiError(err error) *authsdk.APIError {
	var rl *service.RateLimitError
	switch {
	case errors.As(err, &rl):
		return authsdk.ErrRateLimited.WithRetryAfter(rl.RetryAfter)
	case errors.Is(err, service.ErrInvalidCredentials):
		return authsdk.ErrInvalidCredentials
	case errors.Is(err, service.ErrCredentialInvalid):
		return authsdk.ErrCredentialInvalid
	case errors.Is(err, service.ErrCredentialExpired):
		return authsdk.ErrCredentialExpired
	case errors.Is(err, service.ErrCredentialRevoked):
		return authsdk.ErrCredentialRevoked
	case errors.Is(err, service.ErrSecurityViolation):
		return authsdk.ErrSecurityViolation
	case errors.Is(err, service.ErrRateLimited):
		return authsdk.ErrRateLimited
	case errors.Is(err, service.ErrStoreUnavailable):
		return authsdk.ErrStoreUnavailable
	case errors.Is(err, service.ErrUnauthorized):
		return authsdk.ErrUnauthorized
	case errors.Is(err, service.ErrSessionNotFound):
		return authsdk.ErrNotFound
	default:
		return authsdk.ErrServerError
	}
}

// writeServiceError renders err. It doubles as the httpx.ErrorWriter for
// RequireAuth.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apiError(err)
	if apiErr == authsdk.ErrServerError {
		slogx.FromContext(r.Context()).Error("unmapped service error", "err", err)
	}
	apiErr.WriteError(w)
}
