package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// currentSchemaVersion is bumped whenever createSchema changes shape.
const currentSchemaVersion = 1

// applySchema creates the schema if the database is fresh, mirroring the
// teacher's persistence.initializeSchemaWithMigrations version-gated
// approach. A database at any version other than 0 or
// currentSchemaVersion is rejected with an error; there are no migration
// steps.
func applySchema(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version == 0 {
		return createSchema(db)
	}
	if version == currentSchemaVersion {
		return nil
	}
	return fmt.Errorf("unsupported schema version %d (expected 0 or %d)", version, currentSchemaVersion)
}

func schemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan schema version: %w", err)
	}
	return version, nil
}

func createSchema(db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			body TEXT NOT NULL,
			source_url TEXT NOT NULL,
			source_created_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			stage TEXT NOT NULL CHECK (stage IN ('triage','research','response','editorial','post_queue','completed','rejected')),
			status TEXT NOT NULL CHECK (status IN ('pending','processing','completed','failed','rejected')),
			assigned_to TEXT,
			assigned_at DATETIME,
			processed_at DATETIME,
			retry_count INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 5
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_claim ON items(stage, status, assigned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_items_priority ON items(stage, status, priority DESC, created_at ASC)`,

		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_item_stage ON artifacts(item_id, stage, created_at)`,

		`CREATE TABLE IF NOT EXISTS endpoints (
			stage TEXT PRIMARY KEY,
			provider TEXT NOT NULL CHECK (provider IN ('hosted','custom')),
			base_url TEXT NOT NULL,
			model TEXT NOT NULL,
			auth_env_key TEXT NOT NULL DEFAULT '',
			concurrency_cap INTEGER NOT NULL DEFAULT 1,
			timeout_seconds INTEGER NOT NULL DEFAULT 60,
			daily_budget_usd REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS pause_flags (
			stage TEXT PRIMARY KEY,
			paused INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS fallback (
			id TEXT PRIMARY KEY,
			item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fallback_item ON fallback(item_id)`,
	}

	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}
