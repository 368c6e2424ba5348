package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
)

// MeHandler serves GET /auth/me, a minimal protected resource. It accepts
// the bearer header or the legacy session cookie.
type MeHandler struct {
	Service *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Current caller
//	@Description	Returns the claims of the presented access credential.
//	@Description	The Authorization header takes precedence over the sg_access cookie.
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.MeResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"unauthorized, credential_expired, credential_revoked"
//	@Failure		503	{object}	authsdk.ErrorResponse	"store_unavailable"
//	@Router			/auth/me [get].
func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	presented := service.Presented{Bearer: httpx.BearerToken(r)}
	if c, err := r.Cookie(SessionCookie); err == nil {
		presented.Cookie = c.Value
	}

	res := h.Service.Resolve(r.Context(), presented)
	switch res.State {
	case service.Anonymous:
		authsdk.ErrUnauthorized.WriteError(w)
		return
	case service.Rejected:
		writeServiceError(w, r, res.Err)
		return
	}

	c := res.Claims
	me := authsdk.MeResponse{
		Subject:       c.Subject,
		SessionID:     c.SID,
		Username:      c.Username,
		PreferredName: c.PreferredName,
		ExpiresAt:     c.ExpiresAtTime(),
	}
	if c.IssuedAt != nil {
		me.IssuedAt = c.IssuedAt.Time
	}
	httpx.WriteJSON(w, http.StatusOK, me)
}
