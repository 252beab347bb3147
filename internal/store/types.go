package store

import (
	"encoding/json"
	"time"
)

// AuditEvent is an immutable entry in the append-only audit log.
// Sequence increases monotonically within a project.
type AuditEvent struct {
	ID         string          `json:"id"`
	ProjectKey string          `json:"project_key"`
	SecretKey  string          `json:"secret_key,omitempty"`
	EventType  string          `json:"event_type"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Sequence   int64           `json:"sequence"`
}
