package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/keyvault/internal/seal"
	"github.com/rendis/keyvault/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db      *sql.DB
	sealer  seal.Sealer
	queries queryCatalog
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/vault.db". Values pass
// through the sealer on every write and read; a nil sealer stores plaintext.
func NewLibSQLStore(dbPath string, sealer seal.Sealer) (*LibSQLStore, error) {
	if sealer == nil {
		sealer = seal.NoopSealer{}
	}
	queries, err := loadQueries()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, sealer: sealer, queries: queries}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. audit log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Checkpoint truncates the WAL back into the main database file and lets
// the query planner refresh its statistics.
func (s *LibSQLStore) Checkpoint(ctx context.Context) error {
	// wal_checkpoint returns a result row; Exec would leave it dangling.
	rows, err := s.db.QueryContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "PRAGMA optimize")
	return err
}

// BackupInto writes a consistent snapshot of the database to path.
func (s *LibSQLStore) BackupInto(ctx context.Context, path string) error {
	// VACUUM INTO does not support parameter binding.
	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "backup into %s", path).WithCause(err)
	}
	return nil
}

// --- Secrets ---

func (s *LibSQLStore) GetSecret(ctx context.Context, project, key string) (*schema.Secret, error) {
	q, err := s.queries.get("get_secret")
	if err != nil {
		return nil, err
	}
	sec := &schema.Secret{}
	var stored string
	err = s.db.QueryRowContext(ctx, q, project, key).Scan(&sec.ProjectKey, &sec.SecretKey, &stored)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(project, key)
	}
	if err != nil {
		return nil, err
	}
	plain, err := s.sealer.Open(stored)
	if err != nil {
		return nil, err
	}
	sec.SecretValue = json.RawMessage(plain)
	return sec, nil
}

func (s *LibSQLStore) UpsertSecret(ctx context.Context, project, key string, value json.RawMessage) error {
	q, err := s.queries.get("upsert_secret")
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, project, key, sealed)
	return err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, project, key string) (bool, error) {
	q, err := s.queries.get("delete_secret")
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, q, project, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LibSQLStore) ListSecrets(ctx context.Context, project, keyContains string) ([]*schema.Secret, error) {
	name := "list_secrets"
	args := []any{project}
	if keyContains != "" {
		name = "list_secrets_containing"
		args = append(args, keyContains)
	}
	q, err := s.queries.get(name)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var secrets []*schema.Secret
	for rows.Next() {
		sec := &schema.Secret{}
		var stored string
		if err := rows.Scan(&sec.ProjectKey, &sec.SecretKey, &stored); err != nil {
			return nil, err
		}
		plain, err := s.sealer.Open(stored)
		if err != nil {
			return nil, err
		}
		sec.SecretValue = json.RawMessage(plain)
		secrets = append(secrets, sec)
	}
	return secrets, rows.Err()
}

// ImportSecrets upserts all entries in a single transaction. Either every
// entry lands or none does.
func (s *LibSQLStore) ImportSecrets(ctx context.Context, project string, entries []schema.SecretInput) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	q, err := s.queries.get("upsert_secret")
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		sealed, err := s.sealer.Seal(entry.Value)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, project, entry.Key, sealed); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("import %q: %w", entry.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(entries), nil
}

// --- Helpers ---

func storeNotFound(project, key string) *schema.VaultError {
	return schema.NewError(schema.ErrCodeNotFound, "secret not found").WithSecret(project, key)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
