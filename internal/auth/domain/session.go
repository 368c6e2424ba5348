package domain

import "time"

// Session is one logged-in device: one per renewal chain.
type Session struct {
	ID           string
	Subject      string
	ChainID      string
	CurrentCID   string // renewal cid currently valid for this chain
	Device       string
	Network      string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// Active reports whether the session is neither revoked nor expired at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
