// Package store persists analysis reports in PostgreSQL, SQLite or memory.
package store

import (
	"context"
	"time"

	"proxima/internal/errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects to the database and verifies the connection
func Open(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	if url == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, errors.Newf(errors.CodeConfigInvalid, "unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if driver == DriverSQLite {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}
