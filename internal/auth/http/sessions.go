package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
)

// SessionsHandler serves the session self-service endpoints. Every route
// sits behind RequireAuth, so claims are always in the context.
type SessionsHandler struct {
	Service *service.SessionService
}

// HandleList godoc
//
//	@Summary		List sessions
//	@Description	Lists the caller's active device sessions. The one making the request is marked current.
//	@Tags			Sessions
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.ListSessionsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		503	{object}	authsdk.ErrorResponse	"store_unavailable"
//	@Router			/auth/sessions [get].
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	sessions, err := h.Service.ListSessions(r.Context(), claims.Subject, claims.SID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := authsdk.ListSessionsResponse{Sessions: make([]authsdk.SessionInfo, 0, len(sessions))}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, authsdk.SessionInfo{
			ID:         s.ID,
			Device:     s.Device,
			Network:    s.Network,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
			ExpiresAt:  s.ExpiresAt,
			Current:    s.Current,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleRevoke godoc
//
//	@Summary		Revoke a session
//	@Description	Revokes one of the caller's sessions and every credential issued to it.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Session ID"
//	@Success		204	"Session revoked"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse	"not_found"
//	@Router			/auth/sessions/{id} [delete].
func (h *SessionsHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	id := r.PathValue("id")
	if id == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Service.RevokeSession(r.Context(), claims.Subject, id, deviceContext(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevokeOthers godoc
//
//	@Summary		Revoke other sessions
//	@Description	Revokes every session of the caller except the one making the request.
//	@Tags			Sessions
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.RevokeSessionsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		503	{object}	authsdk.ErrorResponse	"store_unavailable"
//	@Router			/auth/sessions [delete].
func (h *SessionsHandler) HandleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	n, err := h.Service.RevokeOtherSessions(r.Context(), claims.Subject, claims.SID, deviceContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeSessionsResponse{Revoked: n})
}
