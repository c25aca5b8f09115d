// Package store persists profile bundles, the similarity log and memoized
// embeddings in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite database connection.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path, creating it if needed, and brings the
// schema up to date. ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	pragmas := []string{"foreign_keys(ON)"}
	if path != ":memory:" {
		pragmas = append(pragmas, "journal_mode(WAL)", "busy_timeout(5000)")
	}
	dsn := path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// ":memory:" databases live and die with their connection.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{db: sqlDB, now: time.Now}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Conn exposes the connection for ad hoc queries.
func (d *DB) Conn() *sql.DB {
	return d.db
}

// migrations[i] upgrades the schema from user_version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_updated ON profiles(updated_at)`,
		`CREATE TABLE IF NOT EXISTS clusters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			description TEXT,
			keywords TEXT,
			mood TEXT,
			UNIQUE(profile_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS similarity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity_a TEXT NOT NULL,
			identity_b TEXT NOT NULL,
			score REAL NOT NULL,
			aggregation TEXT,
			notified_via TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_similarity_a ON similarity_log(identity_a, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_similarity_b ON similarity_log(identity_b, created_at)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			hash TEXT PRIMARY KEY,
			model TEXT,
			vector BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`,
	},
}

// currentVersion is the schema version after every migration has run.
var currentVersion = len(migrations)

func (d *DB) migrate() error {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}
	for ; version < currentVersion; version++ {
		if err := d.applyMigration(version+1, migrations[version]); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs stmts and records the new version in one transaction.
func (d *DB) applyMigration(to int, stmts []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", to, err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", to, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", to)); err != nil {
		return fmt.Errorf("migration %d: setting user_version: %w", to, err)
	}
	return tx.Commit()
}

func (d *DB) timestamp() string {
	return formatTime(d.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
