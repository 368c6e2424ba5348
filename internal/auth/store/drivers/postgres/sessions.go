package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, subject, chain_id, current_cid, device, network, created_at, last_seen_at, expires_at, revoked_at, revoke_reason`

func (r *sessionsRepo) Upsert(ctx context.Context, s domain.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, subject, chain_id, current_cid, device, network, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chain_id) DO UPDATE SET
			current_cid  = EXCLUDED.current_cid,
			device       = EXCLUDED.device,
			network      = EXCLUDED.network,
			last_seen_at = EXCLUDED.last_seen_at,
			expires_at   = EXCLUDED.expires_at
		WHERE sessions.revoked_at IS NULL
	`, s.ID, s.Subject, s.ChainID, s.CurrentCID, s.Device, s.Network, s.CreatedAt, s.LastSeenAt, s.ExpiresAt)
	return err
}

func (r *sessionsRepo) Get(ctx context.Context, id, subject string) (domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND subject = $2
	`, id, subject))
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) GetByChain(ctx context.Context, chainID string) (domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE chain_id = $1
	`, chainID))
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) LockByChain(ctx context.Context, chainID string) (domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE chain_id = $1 FOR UPDATE
	`, chainID))
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) ListActive(ctx context.Context, subject string, now time.Time) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE subject = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_seen_at DESC, id ASC
	`, subject, now)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *sessionsRepo) Revoke(ctx context.Context, id, subject, reason string, at time.Time) (domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		UPDATE sessions
		SET revoked_at = $3, revoke_reason = $4
		WHERE id = $1 AND subject = $2 AND revoked_at IS NULL AND expires_at > $3
		RETURNING `+sessionColumns,
		id, subject, at, reason))
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) RevokeAllExcept(ctx context.Context, subject, exceptID, reason string, at time.Time) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE sessions
		SET revoked_at = $3, revoke_reason = $4
		WHERE subject = $1 AND id <> $2 AND revoked_at IS NULL AND expires_at > $3
		RETURNING `+sessionColumns,
		subject, exceptID, at, reason)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	if err := row.Scan(
		&s.ID, &s.Subject, &s.ChainID, &s.CurrentCID, &s.Device, &s.Network,
		&s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt, &s.RevokedAt, &s.RevokeReason,
	); err != nil {
		return domain.Session{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastSeenAt = s.LastSeenAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.RevokedAt = utcPtr(s.RevokedAt)
	return s, nil
}
