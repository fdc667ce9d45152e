package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"proxima/adapters/store"
	"proxima/app"
	"proxima/internal/config"
	"proxima/internal/errors"
	"proxima/internal/logging"
	"proxima/internal/migration"
	"proxima/internal/session"
	"proxima/internal/telemetry"
	"proxima/ports"
	"proxima/ui"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

// openReports returns the SQL repository when DATABASE_URL is set, else the in-memory one
func openReports(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.ReportRepository, func(), error) {
	if cfg.Database.URL == "" {
		logger.Info("DATABASE_URL not set, reports are kept in memory")
		return store.NewMemoryReportRepository(), func() {}, nil
	}

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	migrator := migration.NewRunner()
	if err := migrator.Run(ctx, db); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "database migration failed")
	}
	logger.Info("report database ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("schema_version", migrator.Version()))
	return store.NewReportRepository(db), func() { db.Close() }, nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingOptions{
		Enabled:     cfg.Tracing.Enabled,
		Stdout:      cfg.Tracing.Stdout,
		ServiceName: "proxima",
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	profile, err := config.LoadProfile(cfg.Analysis.ProfilePath)
	if err != nil {
		return err
	}

	reports, closeReports, err := openReports(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeReports()

	sessions := session.NewStore(cfg.Session.TTL, cfg.Session.MaxSessions)
	datasets := app.NewDatasetService(sessions, profile, logger)
	analysis := app.NewAnalysisService(app.AnalysisOptions{
		Reports:   reports,
		Bootstrap: app.BootstrapFromConfig(cfg.Analysis),
		Logger:    logger,
	})

	if cfg.Data.File != "" {
		res, err := datasets.LoadFile(ctx, "", cfg.Data.File)
		if err != nil {
			return errors.Wrapf(err, "failed to preload %s", cfg.Data.File)
		}
		logger.Info("dataset preloaded",
			zap.String("session_id", res.SessionID),
			zap.Int("users", res.Summary.NUsers),
			zap.Strings("warnings", res.Warnings))
	}

	gin.SetMode(cfg.Server.GinMode)
	server := ui.NewServer(ui.Options{
		Analysis: analysis,
		Datasets: datasets,
		Logger:   logger,
		Version:  version,
		Defaults: ui.Defaults{
			Threshold: cfg.Analysis.DefaultThreshold,
			MinCount:  cfg.Analysis.DefaultMinCount,
			Alpha:     cfg.Analysis.Alpha,
		},
		GenerateRate:  cfg.Server.GenerateRate,
		GenerateBurst: cfg.Server.GenerateBurst,

		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	servers := []*http.Server{{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Ops.Enabled {
		servers = append(servers, &http.Server{
			Addr:              ":" + cfg.Ops.Port,
			Handler:           ui.OpsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "server on %s failed", srv.Addr)
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Session.TTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := sessions.Sweep(); n > 0 {
					logger.Info("expired sessions removed", zap.Int("count", n))
				}
				telemetry.SessionsActive.Set(float64(sessions.Len()))
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("graceful shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}
