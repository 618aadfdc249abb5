package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one row of the append-only authorization audit trail. It is
// a record of a decision, never an input to one.
type AuditEntry struct {
	ID           int64     `json:"id" db:"id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   uuid.UUID `json:"resource_id" db:"resource_id"`
	Action       string    `json:"action" db:"action"`
	Decision     string    `json:"decision" db:"decision"`
	Role         string    `json:"role,omitempty" db:"role"`
	Source       string    `json:"source,omitempty" db:"source"`
	LatencyMs    int64     `json:"latency_ms" db:"latency_ms"`
	RequestID    string    `json:"request_id,omitempty" db:"request_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
