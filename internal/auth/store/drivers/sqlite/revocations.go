package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
)

type revocationsRepo struct {
	db dbtx
}

func (r *revocationsRepo) Insert(ctx context.Context, rv domain.Revocation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO revocations (cid, subject, kind, expires_at, revoked_at, reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cid) DO NOTHING`,
		rv.CID, rv.Subject, rv.Kind, toMillis(rv.ExpiresAt), toMillis(rv.RevokedAt), rv.Reason,
	)
	return err
}

func (r *revocationsRepo) Get(ctx context.Context, cid string) (domain.Revocation, error) {
	var (
		rv                   domain.Revocation
		expiresAt, revokedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT cid, subject, kind, expires_at, revoked_at, reason
		FROM revocations WHERE cid = ?`, cid,
	).Scan(&rv.CID, &rv.Subject, &rv.Kind, &expiresAt, &revokedAt, &rv.Reason)
	if err != nil {
		return domain.Revocation{}, mapNotFound(err)
	}
	rv.ExpiresAt = fromMillis(expiresAt)
	rv.RevokedAt = fromMillis(revokedAt)
	return rv, nil
}

func (r *revocationsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM revocations WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
