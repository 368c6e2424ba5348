package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
)

// RotationLedger tracks renewal credential lineage. A credential moves from
// issued to consumed exactly once; seeing a consumed one again is reuse.
type RotationLedger struct {
	store store.Store
	clock idx.Source
}

func NewRotationLedger(st store.Store, clock idx.Source) *RotationLedger {
	return &RotationLedger{store: st, clock: clock}
}

func (l *RotationLedger) in(tx store.Tx) *RotationLedger {
	return &RotationLedger{store: tx, clock: l.clock}
}

// Record inserts a chain root issued at login.
func (l *RotationLedger) Record(ctx context.Context, r domain.Rotation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.clock.Now()
	}
	return l.store.Rotations().Insert(ctx, r)
}

// IsConsumed reports whether cid has already been exchanged. A cid with no
// entry returns store.ErrNotFound.
func (l *RotationLedger) IsConsumed(ctx context.Context, cid string) (bool, error) {
	r, err := l.store.Rotations().Get(ctx, cid)
	if err != nil {
		return false, err
	}
	return r.Consumed(), nil
}

// Rotation describes one exchange of parent for child.
type Rotation struct {
	ParentCID string
	ChildCID  string
	AccessCID string
	Subject   string
	ChainID   string
	ExpiresAt time.Time

	// IssuedAt is when the child pair was signed. Chain revocation derives
	// the access credential's expiry from it.
	IssuedAt time.Time
}

// RecordRotation consumes the parent and inserts the child. Callers run it
// inside a transaction so both writes land together. The conditional update
// goes first: if another exchange already consumed the parent it returns
// store.ErrAlreadyConsumed before anything is written.
func (l *RotationLedger) RecordRotation(ctx context.Context, rot Rotation) error {
	now := l.clock.Now()
	if rot.IssuedAt.IsZero() {
		rot.IssuedAt = now
	}

	if err := l.store.Rotations().MarkConsumed(ctx, rot.ParentCID, rot.ChildCID, now); err != nil {
		return err
	}

	return l.store.Rotations().Insert(ctx, domain.Rotation{
		CID:       rot.ChildCID,
		Subject:   rot.Subject,
		ChainID:   rot.ChainID,
		ParentCID: rot.ParentCID,
		AccessCID: rot.AccessCID,
		ExpiresAt: rot.ExpiresAt,
		CreatedAt: rot.IssuedAt,
	})
}

// ReuseDetected returns the entry of a reused credential so the caller can
// find its chain and subject.
func (l *RotationLedger) ReuseDetected(ctx context.Context, cid string) (domain.Rotation, error) {
	return l.store.Rotations().Get(ctx, cid)
}

// Chain lists every entry of chainID, oldest first.
func (l *RotationLedger) Chain(ctx context.Context, chainID string) ([]domain.Rotation, error) {
	return l.store.Rotations().ListByChain(ctx, chainID)
}

// Lineage walks parent links from cid back to the chain root and returns the
// cids newest first. It fails on a gap or a cycle.
func (l *RotationLedger) Lineage(ctx context.Context, cid string) ([]string, error) {
	var (
		out  []string
		seen = map[string]bool{}
	)
	for cid != "" {
		if seen[cid] {
			return nil, fmt.Errorf("rotation cycle at %s", cid)
		}
		seen[cid] = true

		r, err := l.store.Rotations().Get(ctx, cid)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("rotation gap at %s: %w", cid, err)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r.CID)
		cid = r.ParentCID
	}
	return out, nil
}

func (l *RotationLedger) SweepExpired(ctx context.Context) (int64, error) {
	return l.store.Rotations().DeleteExpired(ctx, l.clock.Now())
}
