package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants. These provide sensible security defaults but
// can be overridden per-deployment.
const (
	// DefaultAccessTokenTTL is the default lifetime for access credentials.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRenewalTokenTTL is the default lifetime for renewal credentials.
	DefaultRenewalTokenTTL = 7 * 24 * time.Hour
)

// Kind separates the two credential families. Each kind is signed with its
// own secret.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRenewal Kind = "renewal"
)

func (k Kind) Valid() bool { return k == KindAccess || k == KindRenewal }

// Claims are the claims signed into every bearer credential.
//
// The registered "jti" claim is the credential identifier (cid) used by the
// revocation and rotation ledgers.
type Claims struct {
	jwt.RegisteredClaims

	// Kind is either "access" or "renewal".
	Kind Kind `json:"kind"`

	// Session ID, carried by both kinds so an access credential can be traced
	// back to its session without knowing the chain.
	SID string `json:"sid,omitempty"`

	// ChainID groups every renewal credential descended from one login.
	// Renewal credentials only.
	ChainID string `json:"chain_id,omitempty"`

	// ParentCID is the cid of the renewal credential this one replaced.
	// Renewal credentials only, empty for the first link of a chain.
	ParentCID string `json:"parent_cid,omitempty"`

	// Username for the authenticated subject
	Username string `json:"username,omitempty"`

	// PreferredName is the display name for the subject
	PreferredName string `json:"preferred_name,omitempty"`
}

// CID returns the credential identifier.
func (c *Claims) CID() string { return c.ID }

// ExpiresAtTime returns exp as a time, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ValidateShape checks the kind-specific claim invariants: access credentials
// never carry chain_id/parent_cid and renewal credentials always carry a
// chain_id.
func (c *Claims) ValidateShape() error {
	if c.Subject == "" || c.ID == "" {
		return ErrInvalidClaim
	}

	switch c.Kind {
	case KindAccess:
		if c.ChainID != "" || c.ParentCID != "" {
			return ErrInvalidClaim
		}
	case KindRenewal:
		if c.ChainID == "" {
			return ErrInvalidClaim
		}
	default:
		return ErrInvalidClaim
	}

	return nil
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used before
// nbf, as seen at now. A missing exp is treated as expired.
func (c *Claims) ValidateExpiry(now time.Time) error {
	return c.ValidateExpiryWithLeeway(now, 0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	if c.ExpiresAt == nil || !now.Before(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	return nil
}
