package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
)

type revocationsRepo struct {
	db dbtx
}

func (r *revocationsRepo) Insert(ctx context.Context, rv domain.Revocation) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO revocations (cid, subject, kind, expires_at, revoked_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cid) DO NOTHING
	`, rv.CID, rv.Subject, rv.Kind, rv.ExpiresAt, rv.RevokedAt, rv.Reason)
	return err
}

func (r *revocationsRepo) Get(ctx context.Context, cid string) (domain.Revocation, error) {
	var rv domain.Revocation
	err := r.db.QueryRow(ctx, `
		SELECT cid, subject, kind, expires_at, revoked_at, reason
		FROM revocations
		WHERE cid = $1
	`, cid).Scan(&rv.CID, &rv.Subject, &rv.Kind, &rv.ExpiresAt, &rv.RevokedAt, &rv.Reason)
	if err != nil {
		return domain.Revocation{}, mapNotFound(err)
	}
	rv.ExpiresAt = rv.ExpiresAt.UTC()
	rv.RevokedAt = rv.RevokedAt.UTC()
	return rv, nil
}

func (r *revocationsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM revocations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
