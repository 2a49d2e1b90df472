package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SeenStore using a local SQLite database.
// It is an alternative to FileStore for deployments where the seen-set
// shares a database file with other tooling.
type SQLiteStore struct {
	db *sqlx.DB
}

// migration is a single versioned schema change.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);
			CREATE TABLE IF NOT EXISTS processed_uids (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				uid TEXT NOT NULL UNIQUE
			);
			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for durability without blocking readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Contains reports whether id is currently in the retained set.
func (s *SQLiteStore) Contains(id string) bool {
	var exists bool
	err := s.db.Get(
		&exists,
		"SELECT EXISTS(SELECT 1 FROM processed_uids WHERE uid = ?)",
		id,
	)
	return err == nil && exists
}

// MarkSeen inserts id and trims the table back down to MaxEntries,
// dropping the oldest rows first. Both statements run in one
// transaction so a crash never leaves a half-applied mutation.
func (s *SQLiteStore) MarkSeen(id string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return &PersistenceError{Path: "sqlite", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO processed_uids (uid) VALUES (?)", id,
	); err != nil {
		return &PersistenceError{Path: "sqlite", Err: err}
	}

	if _, err := tx.Exec(`
		DELETE FROM processed_uids WHERE seq NOT IN (
			SELECT seq FROM processed_uids ORDER BY seq DESC LIMIT ?
		)`, MaxEntries,
	); err != nil {
		return &PersistenceError{Path: "sqlite", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Path: "sqlite", Err: err}
	}

	return nil
}

// Len returns the number of retained identifiers.
func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM processed_uids"); err != nil {
		return 0
	}
	return n
}
