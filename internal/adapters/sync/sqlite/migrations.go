package sqlite

import (
	"database/sql"
	"fmt"
)

// applyMigrations applies all database migrations in order.
func applyMigrations(db *sql.DB) error {
	// Create migrations table
	if err := createMigrationsTable(db); err != nil {
		return err
	}

	// Apply each migration
	migrations := []struct {
		version int
		name    string
		sql     string
	}{
		{1, "create_operations_table", createOperationsTable},
		{2, "create_delta_tokens_table", createDeltaTokensTable},
		{3, "create_entities_table", createEntitiesTable},
		{4, "create_indices", createIndices},
	}

	for _, m := range migrations {
		applied, err := isMigrationApplied(db, m.version)
		if err != nil {
			return fmt.Errorf("could not check migration %d: %w", m.version, err)
		}

		if applied {
			continue
		}

		// Apply migration
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("could not apply migration %d (%s): %w", m.version, m.name, err)
		}

		// Record migration
		if err := recordMigration(db, m.version, m.name); err != nil {
			return fmt.Errorf("could not record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// createMigrationsTable creates the migrations tracking table.
func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// isMigrationApplied checks if a migration has been applied.
func isMigrationApplied(db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// recordMigration records that a migration has been applied.
func recordMigration(db *sql.DB, version int, name string) error {
	_, err := db.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", version, name)
	return err
}

// Migration SQL statements

// One row per entity: the queue never holds two operations for the same
// (entity_type, item_id).
const createOperationsTable = `
CREATE TABLE operations (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL CHECK (kind IN ('create', 'replace', 'delete')),
	state TEXT NOT NULL DEFAULT 'pending',
	entity_type TEXT NOT NULL,
	item_id TEXT NOT NULL,
	entity_version TEXT NOT NULL DEFAULT '',
	item BLOB,
	sequence INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	http_status INTEGER NOT NULL DEFAULT 0,
	last_attempt TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (entity_type, item_id)
);
`

const createDeltaTokensTable = `
CREATE TABLE delta_tokens (
	query_id TEXT PRIMARY KEY,
	value INTEGER NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const createEntitiesTable = `
CREATE TABLE entities (
	entity_type TEXT NOT NULL,
	id TEXT NOT NULL,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_type, id)
);
`

const createIndices = `
CREATE INDEX idx_operations_sequence ON operations(sequence);
CREATE INDEX idx_operations_entity_type ON operations(entity_type, state, sequence);
CREATE INDEX idx_entities_updated_at ON entities(entity_type, updated_at);
`
