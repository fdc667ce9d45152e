package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"proxima/adapters/store"
	"proxima/internal/logging"
	"proxima/internal/migration"
)

func main() {
	_ = godotenv.Load()

	driver := flag.String("driver", envOr("DATABASE_DRIVER", store.DriverPostgres), "Database driver: postgres or sqlite")
	url := flag.String("url", os.Getenv("DATABASE_URL"), "Database connection URL or sqlite file path")
	flag.Parse()

	logger := logging.Must(logging.Config{Level: envOr("LOG_LEVEL", "INFO"), Development: true})
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := store.Open(ctx, *driver, *url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	versions, err := migration.AppliedVersions(ctx, db)
	if err != nil {
		logger.Fatal("failed to read schema versions", zap.Error(err))
	}
	logger.Info("schema up to date",
		zap.String("driver", *driver),
		zap.String("version", runner.Version()),
		zap.Strings("applied", versions))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
