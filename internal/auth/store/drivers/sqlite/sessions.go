package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, subject, chain_id, current_cid, device, network, created_at, last_seen_at, expires_at, revoked_at, revoke_reason`

func (r *sessionsRepo) Upsert(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject, chain_id, current_cid, device, network, created_at, last_seen_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chain_id) DO UPDATE SET
			current_cid  = excluded.current_cid,
			device       = excluded.device,
			network      = excluded.network,
			last_seen_at = excluded.last_seen_at,
			expires_at   = excluded.expires_at
		WHERE sessions.revoked_at IS NULL`,
		s.ID, s.Subject, s.ChainID, s.CurrentCID, s.Device, s.Network,
		toMillis(s.CreatedAt), toMillis(s.LastSeenAt), toMillis(s.ExpiresAt),
	)
	return err
}

func (r *sessionsRepo) Get(ctx context.Context, id, subject string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND subject = ?`, id, subject)
	s, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) GetByChain(ctx context.Context, chainID string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE chain_id = ?`, chainID)
	s, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

// LockByChain relies on the immediate transaction already holding the
// database write lock.
func (r *sessionsRepo) LockByChain(ctx context.Context, chainID string) (domain.Session, error) {
	return r.GetByChain(ctx, chainID)
}

func (r *sessionsRepo) ListActive(ctx context.Context, subject string, now time.Time) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE subject = ? AND revoked_at IS NULL AND expires_at > ?
		ORDER BY last_seen_at DESC, id ASC`, subject, toMillis(now))
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *sessionsRepo) Revoke(ctx context.Context, id, subject, reason string, at time.Time) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions SET revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND subject = ? AND revoked_at IS NULL AND expires_at > ?
		RETURNING `+sessionColumns,
		toMillis(at), reason, id, subject, toMillis(at))
	s, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) RevokeAllExcept(ctx context.Context, subject, exceptID, reason string, at time.Time) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE sessions SET revoked_at = ?, revoke_reason = ?
		WHERE subject = ? AND id <> ? AND revoked_at IS NULL AND expires_at > ?
		RETURNING `+sessionColumns,
		toMillis(at), reason, subject, exceptID, toMillis(at))
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
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

func scanSession(sc scanner) (domain.Session, error) {
	var (
		s                              domain.Session
		createdAt, lastSeen, expiresAt int64
		revokedAt                      sql.NullInt64
	)
	if err := sc.Scan(
		&s.ID, &s.Subject, &s.ChainID, &s.CurrentCID, &s.Device, &s.Network,
		&createdAt, &lastSeen, &expiresAt, &revokedAt, &s.RevokeReason,
	); err != nil {
		return domain.Session{}, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.LastSeenAt = fromMillis(lastSeen)
	s.ExpiresAt = fromMillis(expiresAt)
	s.RevokedAt = mapNullMillis(revokedAt)
	return s, nil
}
