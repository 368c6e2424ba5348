package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
)

type auditRepo struct {
	db dbtx
}

func (r *auditRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	var detail any
	if len(e.Detail) > 0 {
		detail = e.Detail
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_events (id, subject, identifier, event_type, success, network, device, occurred_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Subject, e.Identifier, string(e.Type), e.Success, e.Network, e.Device, e.OccurredAt, detail)
	return err
}

func (r *auditRepo) ListBySubject(ctx context.Context, subject string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, subject, identifier, event_type, success, network, device, occurred_at, detail
		FROM audit_events
		WHERE subject = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e         domain.AuditEvent
			eventType string
			detail    []byte
		)
		if err := rows.Scan(
			&e.ID, &e.Subject, &e.Identifier, &eventType, &e.Success, &e.Network, &e.Device,
			&e.OccurredAt, &detail,
		); err != nil {
			return nil, err
		}
		e.Type = domain.AuditEventType(eventType)
		e.OccurredAt = e.OccurredAt.UTC()
		e.Detail = detail
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *auditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
