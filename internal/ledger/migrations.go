package ledger

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
}

// runMigrations executes all pending migrations
func (s *SQLiteStore) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func (s *SQLiteStore) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *SQLiteStore) appliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func migration001InitialSchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commodities (
			guid TEXT PRIMARY KEY,
			namespace TEXT NOT NULL DEFAULT 'CURRENCY',
			mnemonic TEXT NOT NULL,
			UNIQUE(namespace, mnemonic)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			guid TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			commodity_guid TEXT REFERENCES commodities(guid)
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			guid TEXT PRIMARY KEY,
			currency_guid TEXT NOT NULL REFERENCES commodities(guid),
			post_date TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS splits (
			guid TEXT PRIMARY KEY,
			entry_guid TEXT NOT NULL REFERENCES entries(guid),
			account_guid TEXT NOT NULL REFERENCES accounts(guid),
			memo TEXT NOT NULL DEFAULT '',
			value REAL NOT NULL,
			quantity REAL NOT NULL,
			reconcile_state TEXT NOT NULL DEFAULT 'n'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_splits_account ON splits(account_guid)`,
		`CREATE INDEX IF NOT EXISTS idx_splits_entry ON splits(entry_guid)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
