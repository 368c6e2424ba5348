package domain

import "time"

// TokenPair is what login and renew hand back: a short-lived access
// credential and a single-use renewal credential.
type TokenPair struct {
	Access           string
	Renewal          string
	TokenType        string // always "Bearer"
	AccessExpiresAt  time.Time
	RenewalExpiresAt time.Time
	SessionID        string
}

// Revocation reasons.
const (
	ReasonLogout          = "logout"
	ReasonRotated         = "rotated"
	ReasonReuseDetected   = "reuse_detected"
	ReasonSessionRevoked  = "session_revoked"
	ReasonSessionsRevoked = "sessions_revoked"
)

// Revocation is one entry in the denylist. Entries are insert-only: the first
// reason recorded for a cid wins and is kept until ExpiresAt, after which the
// credential would be rejected anyway.
type Revocation struct {
	CID       string
	Subject   string
	Kind      string // "access" or "renewal"
	ExpiresAt time.Time
	RevokedAt time.Time
	Reason    string
}

// Rotation records one renewal credential in a chain. ChildCID moves from
// empty to set exactly once, when the credential is exchanged.
type Rotation struct {
	CID        string
	Subject    string
	ChainID    string
	ParentCID  string // empty for the root issued at login
	ChildCID   string // empty until consumed
	AccessCID  string // access credential issued alongside this one
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// Consumed reports whether this credential has been exchanged.
func (r Rotation) Consumed() bool { return r.ChildCID != "" }
