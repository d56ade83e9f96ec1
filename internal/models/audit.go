// Package models - Audit records persisted by the storage layer.
package models

import "time"

// Audit event types recorded by the admission layer.
const (
	EventRateLimited    = "rate_limited"
	EventIPBlocked      = "ip_blocked"
	EventIPUnblocked    = "ip_unblocked"
	EventSuspicious     = "suspicious_activity"
	EventAdmissionError = "admission_error"
)

// AuditEvent is one admission-layer occurrence worth persisting: a
// rejection, a block, an unblock or a fail-open incident. Events feed the
// operator-facing audit log, not the admission decision itself.
type AuditEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	IP        string    `json:"ip"`
	Key       string    `json:"key,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
