package database

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"

	"github.com/latoulicious/tarulink/pkg/logging"
)

type migration struct {
	Version int
	Name    string
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "node_sessions",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS node_sessions (
				node TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				updated_at DATETIME NOT NULL
			);
		`,
	},
	{
		Version: 2,
		Name:    "node_sessions_updated_index",
		UpSQL: `
			CREATE INDEX IF NOT EXISTS idx_node_sessions_updated ON node_sessions(updated_at);
		`,
	},
}

func migrate(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
	`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := apply(ctx, db, mig); err != nil {
			return fmt.Errorf("%w: %d %s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		logger.Debug("Applied migration",
			logging.Int("version", mig.Version),
			logging.String("name", mig.Name))
	}

	return nil
}

func apply(ctx context.Context, db *sql.DB, mig migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
		return err
	}

	checksum := fmt.Sprintf("%x", md5.Sum([]byte(mig.UpSQL)))
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		mig.Version, mig.Name, checksum); err != nil {
		return err
	}

	return tx.Commit()
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}
