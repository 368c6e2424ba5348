package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrAlreadyConsumed is returned when a rotation's child_cid was already
	// set by someone else.
	ErrAlreadyConsumed = errors.New("store: already consumed")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and so a Tx can hand out the same repositories bound to the
// transaction.
type Store interface {
	Revocations() Revocations
	Rotations() Rotations
	Sessions() Sessions
	Audit() Audit
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Nested calls on
	// a Tx fail.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Revocations interface {
	// Insert records a revocation. An existing row for the same cid is left
	// untouched, so the first reason wins.
	Insert(ctx context.Context, r domain.Revocation) error

	// Get returns the revocation for cid or ErrNotFound.
	Get(ctx context.Context, cid string) (domain.Revocation, error)

	// DeleteExpired removes rows whose expires_at is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Rotations interface {
	// Insert adds a rotation entry; ErrAlreadyExists on a duplicate cid.
	Insert(ctx context.Context, r domain.Rotation) error

	// Get returns the entry for cid or ErrNotFound.
	Get(ctx context.Context, cid string) (domain.Rotation, error)

	// MarkConsumed sets child_cid on cid only if it is still unset. It returns
	// ErrAlreadyConsumed when another exchange got there first and
	// ErrNotFound when there is no such entry.
	MarkConsumed(ctx context.Context, cid, childCID string, at time.Time) error

	// ListByChain returns every entry in the chain, oldest first.
	ListByChain(ctx context.Context, chainID string) ([]domain.Rotation, error)

	// DeleteExpired removes entries whose expires_at is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Sessions interface {
	// Upsert inserts the session or, for an existing chain, moves
	// current_cid, last_seen_at, device, network and expires_at forward.
	// Revoked sessions are not resurrected.
	Upsert(ctx context.Context, s domain.Session) error

	// Get returns the session with id owned by subject, or ErrNotFound.
	Get(ctx context.Context, id, subject string) (domain.Session, error)

	// GetByChain returns the session for a renewal chain, or ErrNotFound.
	GetByChain(ctx context.Context, chainID string) (domain.Session, error)

	// LockByChain is GetByChain for use inside a transaction: the row stays
	// locked against concurrent revocation until the transaction ends.
	LockByChain(ctx context.Context, chainID string) (domain.Session, error)

	// ListActive returns subject's unrevoked, unexpired sessions, most
	// recently seen first.
	ListActive(ctx context.Context, subject string, now time.Time) ([]domain.Session, error)

	// Revoke marks one active session revoked. ErrNotFound if subject has no
	// such active session.
	Revoke(ctx context.Context, id, subject, reason string, at time.Time) (domain.Session, error)

	// RevokeAllExcept revokes every active session of subject other than
	// exceptID (which may be empty) and returns the sessions it revoked.
	RevokeAllExcept(ctx context.Context, subject, exceptID, reason string, at time.Time) ([]domain.Session, error)

	// DeleteExpired removes sessions whose expires_at is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Audit interface {
	// Append stores one event.
	Append(ctx context.Context, e domain.AuditEvent) error

	// ListBySubject returns up to limit events for subject, newest first.
	ListBySubject(ctx context.Context, subject string, limit int) ([]domain.AuditEvent, error)

	// DeleteBefore prunes events older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Users interface {
	// Create inserts a user; ErrAlreadyExists if the identifier is taken.
	Create(ctx context.Context, u domain.User) error

	// GetByIdentifier is used during login.
	GetByIdentifier(ctx context.Context, identifier string) (domain.User, error)

	GetByID(ctx context.Context, id string) (domain.User, error)
}
