package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
)

// LogoutHandler serves POST /auth/logout. It answers 204 for every request,
// valid credential or not, so the endpoint cannot be used to test tokens.
type LogoutHandler struct {
	Service *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Log out
//	@Description	Revokes the presented access credential and the rest of its session.
//	@Description	Always answers 204, even for invalid or unknown credentials.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Success		204	"Logged out (or nothing to do)"
//	@Router			/auth/logout [post].
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Service.Logout(r.Context(), httpx.BearerToken(r), deviceContext(r))

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
