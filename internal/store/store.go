package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/keyvault/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Secrets
	GetSecret(ctx context.Context, project, key string) (*schema.Secret, error)
	UpsertSecret(ctx context.Context, project, key string, value json.RawMessage) error
	DeleteSecret(ctx context.Context, project, key string) (bool, error)
	ListSecrets(ctx context.Context, project, keyContains string) ([]*schema.Secret, error)
	ImportSecrets(ctx context.Context, project string, entries []schema.SecretInput) (int, error)

	// Audit log (append-only)
	AppendAudit(ctx context.Context, event *AuditEvent) error
	ListAudit(ctx context.Context, project string, sinceSeq int64, limit int) ([]*AuditEvent, error)
	PruneAudit(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Checkpoint(ctx context.Context) error
	BackupInto(ctx context.Context, path string) error

	// Lifecycle
	Close() error
}
