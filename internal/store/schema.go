package store

import (
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

const (
	createIndicatorsTable = `
		CREATE TABLE IF NOT EXISTS indicators (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`

	createIndexEntriesTable = `
		CREATE TABLE IF NOT EXISTS index_entries (
			idx  TEXT NOT NULL,
			key  TEXT NOT NULL,
			ival INTEGER NOT NULL,
			PRIMARY KEY (idx, key)
		)`

	// Covering index for ordered range scans over one named index.
	createIndexScanIndex = `
		CREATE INDEX IF NOT EXISTS idx_index_entries_scan
		ON index_entries (idx, ival, key)`

	// Declared secondary index names, persisted so a reopened store
	// keeps maintaining them.
	createIndexesTable = `
		CREATE TABLE IF NOT EXISTS indexes (
			name TEXT PRIMARY KEY
		)`

	createSchemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
)

// migrate applies database migrations if needed.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(createSchemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	if version < 1 {
		return migrateV1(db)
	}
	return nil
}

// migrateV1 applies the initial schema.
func migrateV1(db *sql.DB) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	statements := []string{
		createIndicatorsTable,
		createIndexEntriesTable,
		createIndexScanIndex,
		createIndexesTable,
		"INSERT INTO schema_version (version) VALUES (1)",
	}
	for _, stmt := range statements {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return tx.Commit()
}
