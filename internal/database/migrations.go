package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      string
	Down    string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version: 1,
		Up: `
			CREATE TABLE IF NOT EXISTS conversations (
				id UUID PRIMARY KEY,
				pair_key VARCHAR(80) NOT NULL,
				requester_id UUID NOT NULL,
				requester_name VARCHAR(255) NOT NULL DEFAULT '',
				provider_id UUID NOT NULL,
				provider_name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL DEFAULT 'active',
				context_ref TEXT,
				last_message_id UUID,
				last_message_snippet TEXT,
				last_message_sender_id UUID,
				last_message_at TIMESTAMPTZ,
				unread_requester INT NOT NULL DEFAULT 0 CHECK (unread_requester >= 0),
				unread_provider INT NOT NULL DEFAULT 0 CHECK (unread_provider >= 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			-- At most one active conversation per unordered pair. The
			-- insert conflict on this index is how concurrent
			-- find-or-create races are resolved.
			CREATE UNIQUE INDEX IF NOT EXISTS uniq_conversations_active_pair
				ON conversations(pair_key) WHERE status = 'active';

			CREATE INDEX IF NOT EXISTS idx_conversations_requester ON conversations(requester_id, updated_at DESC);
			CREATE INDEX IF NOT EXISTS idx_conversations_provider ON conversations(provider_id, updated_at DESC);
		`,
		Down: `
			DROP TABLE IF EXISTS conversations;
		`,
	},
	{
		Version: 2,
		Up: `
			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender_id UUID NOT NULL,
				sender_role VARCHAR(20) NOT NULL,
				sender_name VARCHAR(255) NOT NULL DEFAULT '',
				content TEXT NOT NULL DEFAULT '',
				kind VARCHAR(20) NOT NULL DEFAULT 'text',
				attachment JSONB,
				metadata JSONB,
				client_key VARCHAR(128) NOT NULL,
				is_read BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				edited_at TIMESTAMPTZ,
				UNIQUE (conversation_id, client_key)
			);

			CREATE INDEX IF NOT EXISTS idx_messages_conversation_order
				ON messages(conversation_id, created_at, id);
			CREATE INDEX IF NOT EXISTS idx_messages_unread
				ON messages(conversation_id, sender_id) WHERE NOT is_read;
		`,
		Down: `
			DROP TABLE IF EXISTS messages;
		`,
	},
}

// RunMigrations runs all pending migrations
func RunMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return err
	}

	// Run pending migrations in ascending order by version
	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, migration := range sorted {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
