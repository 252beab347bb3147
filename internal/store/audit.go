package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendAudit appends an event with a monotonically increasing per-project sequence.
func (s *LibSQLStore) AppendAudit(ctx context.Context, event *AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	// Acquire write lock by executing a write-intent statement.
	// In WAL mode, BeginTx alone may start a deferred transaction.
	// We use an immediate-mode write to force lock acquisition.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	// Clean up the noop row.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_events WHERE project_key = ?`, event.ProjectKey,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.CreatedAt = timeOrNow(event.CreatedAt)
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_events (id, project_key, secret_key, event_type, detail, created_at, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ProjectKey, nullStr(event.SecretKey), event.EventType, nullRaw(event.Detail), event.CreatedAt, seq,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit event: %w", err)
	}
	return nil
}

// ListAudit returns a project's events with sequence > sinceSeq, ordered by sequence ASC.
// A limit of 0 or less means no limit.
func (s *LibSQLStore) ListAudit(ctx context.Context, project string, sinceSeq int64, limit int) ([]*AuditEvent, error) {
	query := `SELECT id, project_key, secret_key, event_type, detail, created_at, sequence
		 FROM audit_events WHERE project_key = ? AND sequence > ? ORDER BY sequence ASC`
	args := []any{project, sinceSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		e := &AuditEvent{}
		var secretKey, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectKey, &secretKey, &e.EventType, &detail, &e.CreatedAt, &e.Sequence); err != nil {
			return nil, err
		}
		e.SecretKey = secretKey.String
		e.Detail = rawOrNil(detail)
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneAudit deletes audit events older than the cutoff and reports how many went.
func (s *LibSQLStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
