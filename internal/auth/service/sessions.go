package service

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
)

// SessionRegistry keeps one entry per renewal chain for self-service review.
// It only marks sessions; revoking the chain's credentials is the
// orchestrator's job.
type SessionRegistry struct {
	store store.Store
	clock idx.Source
}

func NewSessionRegistry(st store.Store, clock idx.Source) *SessionRegistry {
	return &SessionRegistry{store: st, clock: clock}
}

func (r *SessionRegistry) in(tx store.Tx) *SessionRegistry {
	return &SessionRegistry{store: tx, clock: r.clock}
}

func (r *SessionRegistry) Upsert(ctx context.Context, s domain.Session) error {
	return r.store.Sessions().Upsert(ctx, s)
}

// List returns subject's active sessions.
func (r *SessionRegistry) List(ctx context.Context, subject string) ([]domain.Session, error) {
	return r.store.Sessions().ListActive(ctx, subject, r.clock.Now())
}

func (r *SessionRegistry) Get(ctx context.Context, sessionID, subject string) (domain.Session, error) {
	s, err := r.store.Sessions().Get(ctx, sessionID, subject)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	return s, err
}

func (r *SessionRegistry) ByChain(ctx context.Context, chainID string) (domain.Session, error) {
	s, err := r.store.Sessions().GetByChain(ctx, chainID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	return s, err
}

// lockChain reads the chain's session and holds it against concurrent
// revocation for the rest of the transaction.
func (r *SessionRegistry) lockChain(ctx context.Context, chainID string) (domain.Session, error) {
	s, err := r.store.Sessions().LockByChain(ctx, chainID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	return s, err
}

// Revoke marks one of subject's active sessions revoked. Someone else's
// session looks exactly like a missing one.
func (r *SessionRegistry) Revoke(ctx context.Context, sessionID, subject, reason string) (domain.Session, error) {
	s, err := r.store.Sessions().Revoke(ctx, sessionID, subject, reason, r.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	return s, err
}

// RevokeAll revokes every active session of subject except exceptSessionID
// (empty revokes all) and returns what it revoked.
func (r *SessionRegistry) RevokeAll(ctx context.Context, subject, exceptSessionID, reason string) ([]domain.Session, error) {
	return r.store.Sessions().RevokeAllExcept(ctx, subject, exceptSessionID, reason, r.clock.Now())
}

func (r *SessionRegistry) SweepExpired(ctx context.Context) (int64, error) {
	return r.store.Sessions().DeleteExpired(ctx, r.clock.Now())
}
