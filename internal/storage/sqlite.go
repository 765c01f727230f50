// Package storage implements the single-writer SQLite engine behind the
// runledger ingestion API: schema migrations, idempotent inserts, partial
// updates, filtered queries, and the maintenance operations used by the
// retention and backup controllers.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/runledger/internal/config"
)

// Engine owns the database connection for the process. Writes are serialized
// by the process-level single-writer guard; the internal mutex only protects
// the connection against concurrent use within this process.
type Engine struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	journalMode string
	synchronous string
}

// Open opens (creating if necessary) the database at cfg.Path, applies the
// durability PRAGMAs, and brings the schema up to date. The engine refuses to
// operate on schemas older than MinSchemaVersion.
func Open(cfg config.DBConfig) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serves the process; the guard owns cross-process exclusion.
	db.SetMaxOpenConns(1)

	e := &Engine{db: db, path: cfg.Path}
	if err := e.applyPragmas(cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	version, err := e.SchemaVersion()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if version < MinSchemaVersion {
		_ = db.Close()
		return nil, fmt.Errorf("schema version %d is older than required minimum %d", version, MinSchemaVersion)
	}

	slog.Info("storage engine opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", e.journalMode),
		slog.String("synchronous", e.synchronous),
		slog.Int("schema_version", version))
	return e, nil
}

func (e *Engine) applyPragmas(cfg config.DBConfig) error {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 30 * time.Second
	}
	journal := cfg.JournalMode
	if journal == "" {
		journal = "DELETE"
	}
	sync := cfg.Synchronous
	if sync == "" {
		sync = "FULL"
	}

	if err := e.db.QueryRow(fmt.Sprintf("PRAGMA journal_mode = %s", journal)).Scan(&e.journalMode); err != nil {
		return fmt.Errorf("set journal_mode: %w", err)
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA synchronous = %s", sync),
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		// Cap checkpoint growth in case tooling ever flips the journal to WAL.
		"PRAGMA wal_autocheckpoint = 100",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := e.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	e.synchronous = sync
	return nil
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.path }

// JournalMode returns the effective journal mode reported by SQLite.
func (e *Engine) JournalMode() string { return e.journalMode }

// Synchronous returns the configured synchronous level.
func (e *Engine) Synchronous() string { return e.synchronous }

// SchemaVersion returns the highest applied migration version.
func (e *Engine) SchemaVersion() (int, error) {
	var v sql.NullInt64
	err := e.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// Close closes the database connection.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Close()
}

// FileSize returns the database file size in bytes.
func (e *Engine) FileSize() (int64, error) {
	fi, err := os.Stat(e.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns its verdict
// ("ok" when the file is healthy).
func (e *Engine) IntegrityCheck(ctx context.Context) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var verdict string
	if err := e.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&verdict); err != nil {
		return "", fmt.Errorf("integrity check: %w", err)
	}
	return verdict, nil
}
