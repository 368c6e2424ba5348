package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
)

type auditRepo struct {
	db dbtx
}

func (r *auditRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	var detail sql.NullString
	if len(e.Detail) > 0 {
		detail = sql.NullString{String: string(e.Detail), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, subject, identifier, event_type, success, network, device, occurred_at, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Subject, e.Identifier, string(e.Type), e.Success, e.Network, e.Device,
		toMillis(e.OccurredAt), detail,
	)
	return err
}

func (r *auditRepo) ListBySubject(ctx context.Context, subject string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject, identifier, event_type, success, network, device, occurred_at, detail
		FROM audit_events
		WHERE subject = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`, subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e          domain.AuditEvent
			eventType  string
			occurredAt int64
			detail     sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.Subject, &e.Identifier, &eventType, &e.Success, &e.Network, &e.Device,
			&occurredAt, &detail,
		); err != nil {
			return nil, err
		}
		e.Type = domain.AuditEventType(eventType)
		e.OccurredAt = fromMillis(occurredAt)
		if detail.Valid {
			e.Detail = []byte(detail.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *auditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
