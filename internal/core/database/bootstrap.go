package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// bootstrapLockKey serializes schema setup between API instances starting
// against the same database.
const bootstrapLockKey int64 = 0x53756e6c79

// EnsureBootstrapped brings the database up to schemaVersion and reports
// whether the embedded script had to run. The script is idempotent.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	current, err := installedVersion(ctx, db)
	if err != nil {
		return false, err
	}
	if current >= schemaVersion {
		logger.Debug("database: schema up to date", "version", current)
		return false, nil
	}

	logger.Info("database: applying schema", "from_version", current, "to_version", schemaVersion)
	start := time.Now()
	if err := applySchema(ctx, db); err != nil {
		logger.Error("database: schema bootstrap failed", "to_version", schemaVersion, "error", err)
		return false, err
	}
	logger.Info("database: schema applied", "version", schemaVersion, "duration_ms", time.Since(start).Milliseconds())
	return true, nil
}

// installedVersion returns the highest recorded schema version, or 0 for a
// database that was never bootstrapped.
func installedVersion(ctx context.Context, db *sql.DB) (int, error) {
	var present bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('sunlytics_meta') IS NOT NULL`).Scan(&present); err != nil {
		return 0, fmt.Errorf("meta table check failed: %w", err)
	}
	if !present {
		return 0, nil
	}
	var version int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM sunlytics_meta`).Scan(&version); err != nil {
		return 0, fmt.Errorf("meta version check failed: %w", err)
	}
	return version, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	script, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockKey); err != nil {
		return fmt.Errorf("bootstrap lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
