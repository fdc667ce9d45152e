package migration

import (
	"context"
	"fmt"

	"proxima/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// dialect holds the column types that differ between drivers
type dialect struct {
	timestamp string
	payload   string
}

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case "postgres", "pgx":
		return dialect{timestamp: "TIMESTAMPTZ", payload: "JSONB"}, nil
	case "sqlite", "sqlite3":
		return dialect{timestamp: "TIMESTAMP", payload: "TEXT"}, nil
	default:
		return dialect{}, errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", driverName))
	}
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return err
	}

	if err := r.createSchemaVersionTable(ctx, db, d); err != nil {
		return errors.Wrap(err, "failed to create schema_version table")
	}

	if err := r.createReportsTable(ctx, db, d); err != nil {
		return errors.Wrap(err, "failed to create analysis_reports table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	if err := r.recordVersion(ctx, db); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}

	return nil
}

func (r *MigrationRunner) createSchemaVersionTable(ctx context.Context, db *sqlx.DB, d dialect) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at %s NOT NULL
		)
	`, d.timestamp)
	_, err := db.ExecContext(ctx, query)
	return err
}

func (r *MigrationRunner) createReportsTable(ctx context.Context, db *sqlx.DB, d dialect) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS analysis_reports (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at %s NOT NULL,
			payload %s NOT NULL
		)
	`, d.timestamp, d.payload)
	_, err := db.ExecContext(ctx, query)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_analysis_reports_session ON analysis_reports(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_reports_created ON analysis_reports(created_at)`,
	}
	for _, q := range indexes {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB) error {
	query := db.Rebind(`
		INSERT INTO schema_version (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT (version) DO NOTHING
	`)
	_, err := db.ExecContext(ctx, query, r.version)
	return err
}

// AppliedVersions lists the recorded schema versions
func AppliedVersions(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var versions []string
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_version ORDER BY version`); err != nil {
		return nil, errors.Wrap(err, "failed to read schema versions")
	}
	return versions, nil
}
