package domain

import "time"

type KeyAuditAction string

const (
	KeyIssued  KeyAuditAction = "issued"
	KeyRevoked KeyAuditAction = "revoked"
)

// KeyAuditEvent is one entry in the append-only lifecycle history of an
// API key.
type KeyAuditEvent struct {
	KeyID    string         `json:"keyId"`
	TenantID string         `json:"tenantId,omitempty"`
	Action   KeyAuditAction `json:"action"`
	At       time.Time      `json:"at"`
}
