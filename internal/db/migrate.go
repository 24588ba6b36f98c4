// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents one applied schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migration pairs a version with its SQL. Migrations are embedded
// rather than read from disk so the store works the same on every host.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{
		version:     1,
		description: "entity store",
		sql: `
CREATE TABLE IF NOT EXISTS entities (
	uuid TEXT PRIMARY KEY,
	record_id TEXT NOT NULL DEFAULT '',
	sync_status TEXT NOT NULL DEFAULT 'pending_upload',
	last_modified INTEGER NOT NULL,
	change_tag TEXT NOT NULL DEFAULT '',
	conflict_pending INTEGER NOT NULL DEFAULT 0,
	fields TEXT NOT NULL DEFAULT '{}',
	field_modified TEXT NOT NULL DEFAULT '{}',
	base_fields TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_sync_status ON entities(sync_status, last_modified);
CREATE INDEX IF NOT EXISTS idx_entities_conflict ON entities(conflict_pending);
`,
	},
	{
		version:     2,
		description: "conflict history",
		sql: `
CREATE TABLE IF NOT EXISTS conflict_history (
	id TEXT PRIMARY KEY,
	entity_uuid TEXT NOT NULL REFERENCES entities(uuid),
	occurred_at INTEGER NOT NULL,
	resolved_at INTEGER,
	strategy TEXT NOT NULL,
	resolution_type TEXT NOT NULL DEFAULT '',
	local_snapshot TEXT,
	remote_snapshot TEXT,
	merged_snapshot TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conflict_history_open
	ON conflict_history(entity_uuid) WHERE resolved_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_conflict_history_entity ON conflict_history(entity_uuid);
`,
	},
	{
		version:     3,
		description: "sync state key-value store",
		sql: `
CREATE TABLE IF NOT EXISTS sync_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations in a transaction per migration.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.version <= current {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(mig.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.version, mig.description, err)
		}

		checksum := sha256.Sum256([]byte(mig.sql))
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			mig.version, time.Now().Unix(), mig.description, hex.EncodeToString(checksum[:]),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.version, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
