package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
)

// RenewHandler serves POST /auth/renew.
type RenewHandler struct {
	Service *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Renew a credential pair
//	@Description	Exchanges a renewal credential for a new pair. Each renewal credential works once;
//	@Description	presenting it again revokes the whole session and answers 403 security_violation.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			X-Device-Name	header		string					false	"Device descriptor shown in the session list"
//	@Param			request			body		authsdk.RenewRequest	true	"Renewal credential"
//	@Success		200				{object}	authsdk.TokenPair
//	@Failure		400				{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401				{object}	authsdk.ErrorResponse	"credential_invalid, credential_expired, credential_revoked"
//	@Failure		403				{object}	authsdk.ErrorResponse	"security_violation"
//	@Failure		429				{object}	authsdk.ErrorResponse	"rate_limited"
//	@Failure		503				{object}	authsdk.ErrorResponse	"store_unavailable"
//	@Router			/auth/renew [post].
func (h *RenewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RenewRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.Renewal == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.Service.Renew(r.Context(), req.Renewal, deviceContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenPairResponse(pair, h.Service.Codec))
}
