package httpx

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
)

// Authorizer validates an access credential, including revocation.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (jwtx.Claims, error)
}

// ErrorWriter renders an authorization failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireAuth runs the Authorizer against the bearer credential and, on
// success, stores the claims in the request context. On failure onErr
// renders the response and next is never called. A nil onErr writes a bare
// RFC 6750 challenge.
func RequireAuth(a Authorizer, onErr ErrorWriter) Middleware {
	if onErr == nil {
		onErr = func(w http.ResponseWriter, _ *http.Request, _ error) {
			writeBearerError(w, "authentication required")
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authorize(r.Context(), BearerToken(r))
			if err != nil {
				onErr(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	NoCache(w)
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
