package authsdk

import "time"

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	// Error is the machine-readable error code
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// ============================================================================
// Credential Types
// ============================================================================

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// RenewRequest is the body of POST /auth/renew.
type RenewRequest struct {
	Renewal string `json:"renewal"`
}

// TokenPair is returned by login and renew.
type TokenPair struct {
	// Access is the short-lived bearer credential for API requests
	Access string `json:"access"`

	// Renewal is exchanged exactly once for a new pair
	Renewal string `json:"renewal"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access credential lifetime in seconds
	ExpiresIn int `json:"expires_in"`

	// RenewalExpiresIn is the renewal credential lifetime in seconds
	RenewalExpiresIn int `json:"renewal_expires_in"`

	// SessionID identifies the device session this pair belongs to
	SessionID string `json:"session_id"`
}

// ============================================================================
// Session Types
// ============================================================================

// SessionInfo describes one active device session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Network    string    `json:"network"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	// Current marks the session the request was made from
	Current bool `json:"current"`
}

// ListSessionsResponse is returned by GET /auth/sessions.
type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// RevokeSessionsResponse is returned by DELETE /auth/sessions.
type RevokeSessionsResponse struct {
	Revoked int `json:"revoked"`
}

// MeResponse is returned by GET /auth/me.
type MeResponse struct {
	Subject       string    `json:"sub"`
	SessionID     string    `json:"sid"`
	Username      string    `json:"username,omitempty"`
	PreferredName string    `json:"preferred_name,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz (readyz adds Checks).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks is the status of each dependency.
type HealthChecks struct {
	// Database indicates the durable store status
	Database string `json:"database"`

	// Throttle indicates the throttle backend status
	Throttle string `json:"throttle"`
}
