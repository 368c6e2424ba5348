package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeCredentialInvalid  = "credential_invalid"
	ErrorCodeCredentialExpired  = "credential_expired"
	ErrorCodeCredentialRevoked  = "credential_revoked"
	ErrorCodeSecurityViolation  = "security_violation"
	ErrorCodeRateLimited        = "rate_limited"
	ErrorCodeStoreUnavailable   = "store_unavailable"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeNotFound           = "not_found"
	ErrorCodeServerError        = "server_error"
)

// ============================================================================
// APIError
// ============================================================================

// APIError is the error body every endpoint returns. It implements error and
// is used both by the server (to write responses) and by the SDK client (to
// represent them).
type APIError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the machine-readable error code (e.g. "credential_expired")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`

	// RetryAfter is set on rate_limited errors.
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on Code so callers can errors.Is against the catalog below.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WithRetryAfter returns a copy carrying a Retry-After delay.
func (e *APIError) WithRetryAfter(d time.Duration) *APIError {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// WriteError writes this APIError to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(e.RetryAfter)))
	}
	if e.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error=%q`, e.Code))
	}
	httpx.WriteJSON(w, e.StatusCode, ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	return max(s, 1)
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	// ErrInvalidCredentials is returned by login for an unknown identifier or
	// a wrong secret, without saying which.
	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid identifier or secret",
	}

	ErrCredentialInvalid = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeCredentialInvalid,
		Description: "the credential is invalid",
	}

	ErrCredentialExpired = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeCredentialExpired,
		Description: "the credential has expired",
	}

	ErrCredentialRevoked = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeCredentialRevoked,
		Description: "the credential has been revoked",
	}

	// ErrSecurityViolation is returned when a consumed renewal credential is
	// presented again. The chain it belonged to is revoked.
	ErrSecurityViolation = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeSecurityViolation,
		Description: "renewal credential reuse detected, session revoked",
	}

	ErrRateLimited = &APIError{
		StatusCode:  http.StatusTooManyRequests,
		Code:        ErrorCodeRateLimited,
		Description: "too many requests, please try again later",
	}

	ErrStoreUnavailable = &APIError{
		StatusCode:  http.StatusServiceUnavailable,
		Code:        ErrorCodeStoreUnavailable,
		Description: "the service is temporarily unavailable",
	}

	// ErrUnauthorized is returned when the access credential is missing,
	// malformed or forged.
	ErrUnauthorized = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeUnauthorized,
		Description: "authentication required",
	}

	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	ErrNotFound = &APIError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeNotFound,
		Description: "not found",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// NewAPIError creates an APIError with the given status code, error code, and description.
func NewAPIError(statusCode int, code, description string) *APIError {
	return &APIError{
		StatusCode:  statusCode,
		Code:        code,
		Description: description,
	}
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into an *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	out := &APIError{StatusCode: resp.StatusCode}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		out.Code = errResp.Error
		out.Description = errResp.ErrorDescription
	} else {
		out.Code = ErrorCodeServerError
		out.Description = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			out.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	return out
}
