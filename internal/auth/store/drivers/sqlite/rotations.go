package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
)

type rotationsRepo struct {
	db dbtx
}

const rotationColumns = `cid, subject, chain_id, parent_cid, child_cid, access_cid, expires_at, created_at, consumed_at`

func (r *rotationsRepo) Insert(ctx context.Context, rot domain.Rotation) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rotations (`+rotationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cid) DO NOTHING`,
		rot.CID, rot.Subject, rot.ChainID,
		mapStringNull(rot.ParentCID), mapStringNull(rot.ChildCID), rot.AccessCID,
		toMillis(rot.ExpiresAt), toMillis(rot.CreatedAt), mapOptionalMillis(rot.ConsumedAt),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *rotationsRepo) Get(ctx context.Context, cid string) (domain.Rotation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+rotationColumns+` FROM rotations WHERE cid = ?`, cid)
	rot, err := scanRotation(row)
	if err != nil {
		return domain.Rotation{}, mapNotFound(err)
	}
	return rot, nil
}

func (r *rotationsRepo) MarkConsumed(ctx context.Context, cid, childCID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rotations SET child_cid = ?, consumed_at = ?
		WHERE cid = ? AND child_cid IS NULL`,
		childCID, toMillis(at), cid,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either the entry is gone or someone consumed it first.
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM rotations WHERE cid = ?`, cid).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrAlreadyConsumed
}

func (r *rotationsRepo) ListByChain(ctx context.Context, chainID string) ([]domain.Rotation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+rotationColumns+` FROM rotations
		WHERE chain_id = ?
		ORDER BY created_at ASC, cid ASC`, chainID)
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM rotations WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRotation(s scanner) (domain.Rotation, error) {
	var (
		rot                  domain.Rotation
		parent, child        sql.NullString
		expiresAt, createdAt int64
		consumedAt           sql.NullInt64
	)
	if err := s.Scan(
		&rot.CID, &rot.Subject, &rot.ChainID, &parent, &child, &rot.AccessCID,
		&expiresAt, &createdAt, &consumedAt,
	); err != nil {
		return domain.Rotation{}, err
	}
	rot.ParentCID = mapNullString(parent)
	rot.ChildCID = mapNullString(child)
	rot.ExpiresAt = fromMillis(expiresAt)
	rot.CreatedAt = fromMillis(createdAt)
	rot.ConsumedAt = mapNullMillis(consumedAt)
	return rot, nil
}
