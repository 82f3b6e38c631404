package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is a best-effort record of a state-changing operation. Writes
// to the audit sink never fail the operation they describe.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	Action     string         `json:"action"`
	EntityKind string         `json:"entity_kind"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
