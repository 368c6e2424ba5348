package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
)

type rotationsRepo struct {
	db dbtx
}

const rotationColumns = `cid, subject, chain_id, parent_cid, child_cid, access_cid, expires_at, created_at, consumed_at`

func (r *rotationsRepo) Insert(ctx context.Context, rot domain.Rotation) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO rotations (`+rotationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cid) DO NOTHING
	`, rot.CID, rot.Subject, rot.ChainID,
		nullIfEmpty(rot.ParentCID), nullIfEmpty(rot.ChildCID), rot.AccessCID,
		rot.ExpiresAt, rot.CreatedAt, rot.ConsumedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *rotationsRepo) Get(ctx context.Context, cid string) (domain.Rotation, error) {
	rot, err := scanRotation(r.db.QueryRow(ctx, `SELECT `+rotationColumns+` FROM rotations WHERE cid = $1`, cid))
	if err != nil {
		return domain.Rotation{}, mapNotFound(err)
	}
	return rot, nil
}

func (r *rotationsRepo) MarkConsumed(ctx context.Context, cid, childCID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE rotations
		SET child_cid = $2, consumed_at = $3
		WHERE cid = $1 AND child_cid IS NULL
	`, cid, childCID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists int
	err = r.db.QueryRow(ctx, `SELECT 1 FROM rotations WHERE cid = $1`, cid).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrAlreadyConsumed
}

func (r *rotationsRepo) ListByChain(ctx context.Context, chainID string) ([]domain.Rotation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+rotationColumns+`
		FROM rotations
		WHERE chain_id = $1
		ORDER BY created_at ASC, cid ASC
	`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rotation
	for rows.Next() {
		rot, err := scanRotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rot)
	}
	return out, rows.Err()
}

func (r *rotationsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rotations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRotation(row pgx.Row) (domain.Rotation, error) {
	var (
		rot           domain.Rotation
		parent, child *string
	)
	if err := row.Scan(
		&rot.CID, &rot.Subject, &rot.ChainID, &parent, &child, &rot.AccessCID,
		&rot.ExpiresAt, &rot.CreatedAt, &rot.ConsumedAt,
	); err != nil {
		return domain.Rotation{}, err
	}
	rot.ParentCID = derefString(parent)
	rot.ChildCID = derefString(child)
	rot.ExpiresAt = rot.ExpiresAt.UTC()
	rot.CreatedAt = rot.CreatedAt.UTC()
	rot.ConsumedAt = utcPtr(rot.ConsumedAt)
	return rot, nil
}
