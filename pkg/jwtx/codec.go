package jwtx

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret the codec accepts.
const MinSecretLength = 32

var (
	// ErrInvalid is the only verification failure callers see for a token
	// that is forged, malformed, of the wrong kind or for the wrong
	// issuer/audience. It never says which check failed.
	ErrInvalid = errors.New("jwtx: credential invalid")

	// ErrExpired is returned only for authentic, otherwise-valid tokens whose
	// exp has passed.
	ErrExpired = errors.New("jwtx: credential expired")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")

	ErrWeakSecret   = fmt.Errorf("jwtx: signing secret must be at least %d bytes", MinSecretLength)
	ErrSharedSecret = errors.New("jwtx: access and renewal secrets must differ")
)

// CodecConfig holds the per-kind secrets and lifetimes.
type CodecConfig struct {
	AccessSecret  []byte
	RenewalSecret []byte
	AccessTTL     time.Duration
	RenewalTTL    time.Duration
	Issuer        string
	Audience      []string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration
}

// Codec signs and verifies bearer credentials. It holds no mutable state and
// is safe for concurrent use.
type Codec struct {
	cfg CodecConfig
}

// NewCodec validates the configuration and returns a Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.AccessSecret) < MinSecretLength || len(cfg.RenewalSecret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RenewalSecret) {
		return nil, ErrSharedSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RenewalTTL <= 0 {
		cfg.RenewalTTL = DefaultRenewalTokenTTL
	}

	return &Codec{cfg: cfg}, nil
}

// TTL returns the configured lifetime for kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRenewal {
		return c.cfg.RenewalTTL
	}
	return c.cfg.AccessTTL
}

func (c *Codec) secret(kind Kind) []byte {
	if kind == KindRenewal {
		return c.cfg.RenewalSecret
	}
	return c.cfg.AccessSecret
}

// Issue stamps iat/nbf/exp/iss/aud onto claims, enforces the kind invariants
// and signs the result. The caller supplies the subject and, for renewal
// credentials, the chain fields. An empty jti gets a fresh ULID.
func (c *Codec) Issue(claims Claims, kind Kind, now time.Time) (string, Claims, error) {
	if !kind.Valid() {
		return "", Claims{}, ErrInvalidClaim
	}

	claims.Kind = kind
	if claims.ID == "" {
		claims.ID = idx.NewAt(now).String()
	}
	claims.Issuer = c.cfg.Issuer
	claims.Audience = jwt.ClaimStrings(c.cfg.Audience)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.TTL(kind)))

	if err := claims.ValidateShape(); err != nil {
		return "", Claims{}, err
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret(kind))
	if err != nil {
		return "", Claims{}, fmt.Errorf("jwtx: sign %s credential: %w", kind, err)
	}

	return signed, claims, nil
}

// Verify checks the signature with the expected kind's secret, then shape,
// issuer, audience, nbf and exp as seen at now.
func (c *Codec) Verify(token string, expected Kind, now time.Time) (Claims, error) {
	claims, err := c.VerifyExpired(token, expected, now)
	if err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// VerifyExpired is Verify, except that an authentic token whose exp has
// passed comes back with its claims alongside ErrExpired. Only use the
// claims to end what the token started, never to grant access.
func (c *Codec) VerifyExpired(token string, expected Kind, now time.Time) (Claims, error) {
	if token == "" || !expected.Valid() {
		return Claims{}, ErrInvalid
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.secret(expected), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalid
	}

	if claims.Kind != expected {
		return Claims{}, ErrInvalid
	}
	if err := claims.ValidateShape(); err != nil {
		return Claims{}, ErrInvalid
	}
	if err := claims.ValidateIssuer(c.cfg.Issuer); err != nil {
		return Claims{}, ErrInvalid
	}
	if err := claims.ValidateAudience(c.cfg.Audience); err != nil {
		return Claims{}, ErrInvalid
	}

	switch err := claims.ValidateExpiryWithLeeway(now, c.cfg.Leeway); {
	case errors.Is(err, ErrExpired):
		return claims, ErrExpired
	case err != nil:
		return Claims{}, ErrInvalid
	}

	return claims, nil
}
