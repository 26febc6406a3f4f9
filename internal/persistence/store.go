// Package persistence is the sqlite-backed store for state that must survive
// restarts: the append-only audit log and the kill-switch flag. Proposal and
// session state is deliberately not persisted; it dies with the connection
// that created it.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionLatest  = 1
	schemaChecksumLatest = "ab-v1-2026-08-schema"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// DefaultDBPath places the database under the user's home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".actionbridge", "actionbridge.db")
}

// Open initializes the database, applying the schema if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying handle for the audit sink.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existingChecksum != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existingChecksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_log_request_id ON audit_log(request_id);

		CREATE TABLE IF NOT EXISTS kill_switch (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			active INTEGER NOT NULL DEFAULT 0,
			since DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		INSERT OR IGNORE INTO kill_switch (id, active) VALUES (1, 0);
	`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`,
		schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// LoadKillSwitch implements killswitch.Store.
func (s *Store) LoadKillSwitch(ctx context.Context) (bool, time.Time, error) {
	var active int
	var since sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT active, since FROM kill_switch WHERE id = 1;`).Scan(&active, &since)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("load kill switch: %w", err)
	}
	if since.Valid {
		return active != 0, since.Time, nil
	}
	return active != 0, time.Time{}, nil
}

// SaveKillSwitch implements killswitch.Store.
func (s *Store) SaveKillSwitch(ctx context.Context, active bool, since time.Time) error {
	var sinceVal any
	if !since.IsZero() {
		sinceVal = since.UTC()
	}
	flag := 0
	if active {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE kill_switch SET active = ?, since = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1;
	`, flag, sinceVal)
	if err != nil {
		return fmt.Errorf("save kill switch: %w", err)
	}
	return nil
}

// AuditEventCount returns the total number of persisted audit events.
func (s *Store) AuditEventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit_log: %w", err)
	}
	return n, nil
}

// RetentionResult holds counts of purged records from a retention run.
type RetentionResult struct {
	PurgedAuditLogs int64 `json:"purged_audit_logs"`
}

// RunRetention deletes audit rows older than the retention window in days.
// The job is idempotent; a zero or negative window purges nothing.
func (s *Store) RunRetention(ctx context.Context, auditLogDays int) (RetentionResult, error) {
	var result RetentionResult
	if auditLogDays <= 0 {
		return result, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -auditLogDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?;`, cutoff)
	if err != nil {
		return result, fmt.Errorf("purge audit_log: %w", err)
	}
	result.PurgedAuditLogs, _ = res.RowsAffected()
	return result, nil
}
