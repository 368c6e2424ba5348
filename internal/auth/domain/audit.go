package domain

import (
	"encoding/json"
	"time"
)

type AuditEventType string

const (
	AuditLoginSuccess    AuditEventType = "login_success"
	AuditLoginFailed     AuditEventType = "login_failed"
	AuditRenewalSuccess  AuditEventType = "renewal_success"
	AuditRenewalFailed   AuditEventType = "renewal_failed"
	AuditReuseDetected   AuditEventType = "reuse_detected"
	AuditLogout          AuditEventType = "logout"
	AuditSessionRevoked  AuditEventType = "session_revoked"
	AuditSessionsRevoked AuditEventType = "sessions_revoked"
	AuditRateLimited     AuditEventType = "rate_limited"
)

// AuditEvent is an append-only security record. Subject is empty when the
// caller never authenticated; Identifier then holds what they tried.
type AuditEvent struct {
	ID         string
	Subject    string
	Identifier string
	Type       AuditEventType
	Success    bool
	Network    string
	Device     string
	OccurredAt time.Time
	Detail     json.RawMessage
}
