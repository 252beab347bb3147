package schema

// Event type constants for the audit log.
const (
	EventSecretUpserted  = "secret_upserted"
	EventSecretDeleted   = "secret_deleted"
	EventSecretsImported = "secrets_imported"
	EventVaultBackedUp   = "vault_backed_up"
	EventAuditPruned     = "audit_pruned"
)

// SystemProject is the reserved project key under which vault-wide
// maintenance events (backups, audit prunes) are recorded. Reading it
// works like any other project: GET /audit with X-PROJECT-KEY: _system.
const SystemProject = "_system"

// ChangeType classifies a live change notification pushed to stream
// subscribers. It is a strict subset of the audit event types: only
// mutations to individual secrets fan out as change events.
type ChangeType string

const (
	ChangeUpserted ChangeType = "upserted"
	ChangeDeleted  ChangeType = "deleted"
)
