package storage

import (
	"fmt"
	"log"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 4

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *SQLiteStore) initSchema() error {
	// Schema version table tracks database migrations.
	// This allows future schema changes to be applied incrementally.
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Check current version
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	// Apply migrations based on current version
	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if version < 3 {
		if err := s.migrateToV3(); err != nil {
			return fmt.Errorf("migrate to v3: %w", err)
		}
	}

	if version < 4 {
		if err := s.migrateToV4(); err != nil {
			return fmt.Errorf("migrate to v4: %w", err)
		}
	}

	return nil
}

// recordMigration marks a schema version as applied.
func (s *SQLiteStore) recordMigration(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

// migrateToV1 creates the initial schema (pairing_codes table).
func (s *SQLiteStore) migrateToV1() error {
	log.Printf("storage: applying migration to schema version 1")

	// Timestamps are stored as Unix nanoseconds so expiry comparisons can
	// run inside SQL, which keeps the consume transition a single
	// conditional UPDATE.
	const codesTable = `
		CREATE TABLE IF NOT EXISTS pairing_codes (
			code TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			issuer_device_id TEXT NOT NULL,
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			state TEXT NOT NULL DEFAULT 'active',
			consumed_by TEXT NOT NULL DEFAULT '',
			consumed_at INTEGER
		);

		-- Index for garbage collection sweeps over expiry.
		CREATE INDEX IF NOT EXISTS idx_codes_expires ON pairing_codes(expires_at);
	`

	if _, err := s.db.Exec(codesTable); err != nil {
		return fmt.Errorf("create pairing_codes table: %w", err)
	}

	return s.recordMigration(1)
}

// migrateToV2 adds the trust_edges table.
func (s *SQLiteStore) migrateToV2() error {
	log.Printf("storage: applying migration to schema version 2")

	// Edges are soft-deleted via revoked_at; the partial unique index
	// enforces at most one active edge per ordered (source, target) pair
	// at the database level.
	const edgesTable = `
		CREATE TABLE IF NOT EXISTS trust_edges (
			id TEXT PRIMARY KEY,
			source_device_id TEXT NOT NULL,
			target_device_id TEXT NOT NULL,
			trust_level INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			revoked_at INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_active_pair
			ON trust_edges(source_device_id, target_device_id)
			WHERE revoked_at IS NULL;

		CREATE INDEX IF NOT EXISTS idx_edges_source ON trust_edges(source_device_id);
	`

	if _, err := s.db.Exec(edgesTable); err != nil {
		return fmt.Errorf("create trust_edges table: %w", err)
	}

	return s.recordMigration(2)
}

// migrateToV3 adds the devices table for registration/authentication.
func (s *SQLiteStore) migrateToV3() error {
	log.Printf("storage: applying migration to schema version 3")

	// Each device has a unique ID and a bcrypt-hashed token.
	const devicesTable = `
		CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			token_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);
	`

	if _, err := s.db.Exec(devicesTable); err != nil {
		return fmt.Errorf("create devices table: %w", err)
	}

	return s.recordMigration(3)
}

// migrateToV4 adds the audit_events table.
func (s *SQLiteStore) migrateToV4() error {
	log.Printf("storage: applying migration to schema version 4")

	const auditTable = `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			source_device_id TEXT NOT NULL DEFAULT '',
			target_device_id TEXT NOT NULL DEFAULT '',
			code_format TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_events(at);
	`

	if _, err := s.db.Exec(auditTable); err != nil {
		return fmt.Errorf("create audit_events table: %w", err)
	}

	return s.recordMigration(4)
}
