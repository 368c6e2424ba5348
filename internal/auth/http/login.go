package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
)

// LoginHandler serves POST /auth/login.
type LoginHandler struct {
	Service *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Log in
//	@Description	Exchanges an identifier and secret for an access and renewal credential pair.
//	@Description	An unknown identifier and a wrong secret produce the same response.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			X-Device-Name	header		string					false	"Device descriptor shown in the session list"
//	@Param			request			body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200				{object}	authsdk.TokenPair
//	@Failure		400				{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401				{object}	authsdk.ErrorResponse	"invalid_credentials"
//	@Failure		429				{object}	authsdk.ErrorResponse	"rate_limited"
//	@Failure		503				{object}	authsdk.ErrorResponse	"store_unavailable"
//	@Header			429				{integer}	Retry-After				"Seconds until the window resets"
//	@Router			/auth/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.Service.Login(r.Context(), service.LoginRequest{
		Identifier:    req.Identifier,
		Secret:        req.Secret,
		DeviceContext: deviceContext(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenPairResponse(pair, h.Service.Codec))
}

func tokenPairResponse(p domain.TokenPair, codec *jwtx.Codec) authsdk.TokenPair {
	return authsdk.TokenPair{
		Access:           p.Access,
		Renewal:          p.Renewal,
		TokenType:        p.TokenType,
		ExpiresIn:        int(codec.TTL(jwtx.KindAccess).Seconds()),
		RenewalExpiresIn: int(codec.TTL(jwtx.KindRenewal).Seconds()),
		SessionID:        p.SessionID,
	}
}
