package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/pkg/schema"
)

// Job names, stable across config and logs.
const (
	JobAuditPrune = "audit-prune"
	JobCheckpoint = "checkpoint"
	JobBackup     = "backup"
)

// Maintenance bundles the store tasks the scheduler drives and the
// knobs they run with. Prunes and backups leave their own trail in the
// audit log under schema.SystemProject.
type Maintenance struct {
	store  store.Store
	logger *slog.Logger

	auditRetention time.Duration
	backupDir      string
	backupKeep     int
}

// NewMaintenance wires the maintenance tasks around a store. A backupKeep
// of 0 or less keeps every snapshot.
func NewMaintenance(st store.Store, logger *slog.Logger, auditRetention time.Duration, backupDir string, backupKeep int) *Maintenance {
	return &Maintenance{
		store:          st,
		logger:         logger,
		auditRetention: auditRetention,
		backupDir:      backupDir,
		backupKeep:     backupKeep,
	}
}

// Register adds the standard jobs to the scheduler under the given cron
// specs. An empty spec disables its job, as does a non-positive audit
// retention for the prune.
func (m *Maintenance) Register(s *Scheduler, pruneSpec, checkpointSpec, backupSpec string) error {
	if pruneSpec != "" && m.auditRetention > 0 {
		if err := s.AddJob(JobAuditPrune, pruneSpec, m.PruneAudit); err != nil {
			return err
		}
	}
	if checkpointSpec != "" {
		if err := s.AddJob(JobCheckpoint, checkpointSpec, m.Checkpoint); err != nil {
			return err
		}
	}
	if backupSpec != "" && m.backupDir != "" {
		if err := s.AddJob(JobBackup, backupSpec, m.Backup); err != nil {
			return err
		}
	}
	return nil
}

// PruneAudit deletes audit events older than the retention window and,
// when anything went, records the prune under the system project.
func (m *Maintenance) PruneAudit(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.auditRetention)
	pruned, err := m.store.PruneAudit(ctx, cutoff)
	if err != nil {
		return err
	}
	if pruned == 0 {
		return nil
	}

	m.logger.InfoContext(ctx, "audit events pruned",
		slog.Int64("count", pruned),
		slog.Time("cutoff", cutoff),
	)
	return m.store.AppendAudit(ctx, &store.AuditEvent{
		ProjectKey: schema.SystemProject,
		EventType:  schema.EventAuditPruned,
		Detail:     json.RawMessage(fmt.Sprintf(`{"pruned":%d}`, pruned)),
	})
}

// Checkpoint folds the WAL back into the main database file.
func (m *Maintenance) Checkpoint(ctx context.Context) error {
	return m.store.Checkpoint(ctx)
}

// Backup writes a timestamped snapshot with a .sha256 sidecar, then
// drops the oldest snapshots past the retention count.
func (m *Maintenance) Backup(ctx context.Context) error {
	if err := os.MkdirAll(m.backupDir, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	name := snapshotName(time.Now().UTC())
	path := filepath.Join(m.backupDir, name)
	if err := m.store.BackupInto(ctx, path); err != nil {
		return err
	}
	digest, err := writeChecksumSidecar(path)
	if err != nil {
		return err
	}

	removed, err := pruneSnapshots(m.backupDir, m.backupKeep)
	if err != nil {
		// The snapshot itself is safe; retention can catch up next run.
		m.logger.WarnContext(ctx, "snapshot retention failed", slog.String("error", err.Error()))
	}
	m.logger.InfoContext(ctx, "vault backed up",
		slog.String("path", path),
		slog.Int("snapshots_removed", removed),
	)
	return m.store.AppendAudit(ctx, &store.AuditEvent{
		ProjectKey: schema.SystemProject,
		EventType:  schema.EventVaultBackedUp,
		Detail:     json.RawMessage(fmt.Sprintf(`{"snapshot":%q,"sha256":%q}`, name, digest)),
	})
}
