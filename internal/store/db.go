// Package store provides the durable, single-writer relational store
// backing every monitor, heartbeat, incident, and notification record.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGo dependency)
)

//go:embed schema.sql
var schemaFS embed.FS

// Profile selects the PRAGMA set applied to the connection.
type Profile string

const (
	// ProfileLedger maximizes durability: fsync after every write, no
	// auto-vacuum shrinkage. Used for the single store, since heartbeats
	// and incidents are an audit trail.
	ProfileLedger Profile = "ledger"
	// ProfileCache maximizes throughput at the cost of durability.
	// Reserved for ephemeral/test databases.
	ProfileCache Profile = "cache"
	// ProfileStandard balances the two.
	ProfileStandard Profile = "standard"
)

// DB wraps the SQLite connection with the PRAGMA profile and schema
// migration used throughout the service.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile

	// writeMu serializes the sequence-allocating write paths (heartbeats,
	// incidents, webhook_deliveries) so seq assignment and the at-most-
	// one-open-incident invariant hold. The heartbeat and webhook-delivery
	// inserts and the retention prunes take it themselves; ingest.Heartbeat
	// holds it around the heartbeat insert and the status engine's incident
	// and transition writes. Other writes (monitor, channel, rule and
	// acknowledgement updates) do not take it and rely on SQLite's
	// busy_timeout; reads never do (spec §4.A/§5).
	writeMu sync.Mutex
}

// WithWriteLock runs fn while holding the store's single writer lock.
func (db *DB) WithWriteLock(fn func() error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return fn()
}

// Config configures a new DB.
type Config struct {
	Path    string
	Profile Profile
}

// Open opens (creating if necessary) the SQLite database at cfg.Path,
// applies the profile's PRAGMAs, and runs the embedded schema migration.
func Open(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path to absolute: %w", err)
		}
		if dir := filepath.Dir(absPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	connStr := buildConnectionString(cfg.Path, cfg.Profile)

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configureConnectionPool(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, path: cfg.Path, profile: cfg.Profile}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
		connStr += "&_pragma=auto_vacuum(FULL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)"
	connStr += "&_pragma=busy_timeout(5000)"

	return connStr
}

func configureConnectionPool(conn *sql.DB) {
	// SQLite has a single writer regardless of pool size; a handful of
	// connections lets concurrent readers proceed without serializing
	// behind the rare long-running write.
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)
}

// Migrate applies the embedded schema. It is idempotent: `CREATE TABLE IF
// NOT EXISTS` / `CREATE INDEX IF NOT EXISTS` statements make repeated runs
// a no-op.
func (db *DB) Migrate() error {
	content, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}

	if _, err := db.conn.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying *sql.DB for repository code.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the absolute database file path.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// HealthCheck pings the connection and runs a cheap integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// WALCheckpoint forces a WAL checkpoint, truncating the WAL file, which
// leaves the main database file self-contained.
func (db *DB) WALCheckpoint() error {
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	return nil
}
