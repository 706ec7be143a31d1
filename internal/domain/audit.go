package domain

import "time"

// AuditEntry records one state-changing operation for the persisted audit trail.
type AuditEntry struct {
	ID          string         `json:"id"`
	ActorID     string         `json:"actor_id"`
	Action      string         `json:"action"`
	TableName   string         `json:"table_name"`
	ReferenceID string         `json:"reference_id"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
