package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// schema lists the DDL steps in order. Step i brings the database to
// user_version i+1; steps are never edited once released, only appended.
var schema = []struct {
	name  string
	stmts []string
}{
	{
		name: "relay_messages",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS relay_messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				channel_key TEXT    NOT NULL,
				message_id  TEXT    NOT NULL,
				payload     TEXT    NOT NULL,
				created_at  INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_relay_messages_window
				ON relay_messages(channel_key, created_at DESC, id DESC)`,
		},
	},
	{
		name: "message id lookup",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_relay_messages_msg ON relay_messages(message_id)`,
		},
	},
}

// schemaVersion is the user_version a fully migrated database reports.
var schemaVersion = len(schema)

// RunMigrations brings db up to schemaVersion. Each step runs in its own
// transaction together with the user_version bump.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	ctx := context.Background()
	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than this build (v%d)", current, schemaVersion)
	}

	for v := current; v < schemaVersion; v++ {
		step := schema[v]
		logger.Info("applying migration", "version", v+1, "name", step.name)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		for _, stmt := range step.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d (%s): %w", v+1, step.name, err)
			}
		}
		// PRAGMA does not take bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: set version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d: commit: %w", v+1, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the database's user_version; 0 for a new file.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
