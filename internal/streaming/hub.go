package streaming

import (
	"context"
	"time"

	"github.com/rendis/keyvault/pkg/schema"
)

// ChangeEvent is a live notification that a secret changed. It is the
// unit pushed to SSE clients and MCP sessions.
type ChangeEvent struct {
	ProjectKey string            `json:"project_key"`
	SecretKey  string            `json:"secret_key"`
	EventType  schema.ChangeType `json:"event_type"`
	At         time.Time         `json:"at"`
}

// ChangeFilter specifies which change events a subscriber wants to
// receive. An empty field matches everything.
type ChangeFilter struct {
	ProjectKey string              `json:"project_key,omitempty"`
	EventTypes []schema.ChangeType `json:"event_types,omitempty"`
}

// ChangeHub provides pub/sub for live secret change events.
type ChangeHub interface {
	Publish(ctx context.Context, event ChangeEvent) error
	Subscribe(ctx context.Context, filter ChangeFilter) (<-chan ChangeEvent, func(), error)
}
