package service

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
)

// RevocationLedger is the denylist of credential ids. It is consulted before
// any verified credential is honoured.
type RevocationLedger struct {
	store store.Store
	clock idx.Source
}

func NewRevocationLedger(st store.Store, clock idx.Source) *RevocationLedger {
	return &RevocationLedger{store: st, clock: clock}
}

// in returns a ledger bound to tx.
func (l *RevocationLedger) in(tx store.Tx) *RevocationLedger {
	return &RevocationLedger{store: tx, clock: l.clock}
}

// Revoke records cid as revoked. Revoking an already revoked cid is a no-op
// and keeps the original reason.
func (l *RevocationLedger) Revoke(ctx context.Context, cid, subject string, kind jwtx.Kind, expiresAt time.Time, reason string) error {
	return l.store.Revocations().Insert(ctx, domain.Revocation{
		CID:       cid,
		Subject:   subject,
		Kind:      string(kind),
		ExpiresAt: expiresAt,
		RevokedAt: l.clock.Now(),
		Reason:    reason,
	})
}

func (l *RevocationLedger) IsRevoked(ctx context.Context, cid string) (bool, error) {
	_, ok, err := l.Lookup(ctx, cid)
	return ok, err
}

// Lookup returns the revocation for cid, if any.
func (l *RevocationLedger) Lookup(ctx context.Context, cid string) (domain.Revocation, bool, error) {
	rv, err := l.store.Revocations().Get(ctx, cid)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Revocation{}, false, nil
	}
	if err != nil {
		return domain.Revocation{}, false, err
	}
	return rv, true, nil
}

// SweepExpired drops entries whose credential has expired on its own.
func (l *RevocationLedger) SweepExpired(ctx context.Context) (int64, error) {
	return l.store.Revocations().DeleteExpired(ctx, l.clock.Now())
}
