// Package main implements the entry point for the enhance-api server,
// which tracks image-enhancement tasks, reconciles them against the render
// provider, and settles credits when work completes.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pixelrise/enhance-api/internal/config"
	"github.com/pixelrise/enhance-api/internal/platform/ledger"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
	"github.com/pixelrise/enhance-api/internal/platform/postgres"
	"github.com/pixelrise/enhance-api/internal/platform/provider"
	"github.com/pixelrise/enhance-api/internal/redact"
	"github.com/pixelrise/enhance-api/internal/scheduler"
	"github.com/pixelrise/enhance-api/internal/service/auth"
	"github.com/pixelrise/enhance-api/internal/service/reconcile"
)

// application holds the fully wired dependency graph.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	db         *sql.DB
	jwtService auth.JWTService
	sweeper    *reconcile.Sweeper
	scheduler  *scheduler.Scheduler

	tasks      *postgres.PostgresTaskStore
	reconciler *reconcile.Reconciler
}

func main() {
	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer func() {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", "error", redact.Error(err))
		}
	}()

	if app.scheduler != nil {
		app.scheduler.Start()
		defer app.scheduler.Stop()
	}

	if err := app.startHTTPServer(context.Background()); err != nil {
		app.logger.Error("server exited with error", "error", redact.Error(err))
	}
}

// initializeApp loads configuration and builds every component the server
// needs: logger, database, stores, clients, services, and the scheduler.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"sweep_schedule", cfg.Reconcile.SweepSchedule)

	db, err := openDatabase(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	providerClient, err := provider.NewClient(cfg.Provider, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}

	ledgerClient, err := ledger.NewClient(cfg.Ledger, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db, appLogger)

	reconciler := reconcile.NewReconciler(taskStore, providerClient, ledgerClient,
		reconcile.Config{
			SubmissionTimeout:    cfg.Reconcile.SubmissionTimeout,
			MaxProcessingTimeout: cfg.Reconcile.MaxProcessingTimeout,
		}, appLogger)

	sweeper := reconcile.NewSweeper(taskStore, reconciler,
		reconcile.SweepConfig{
			FetchLimit:  cfg.Reconcile.SweepFetchLimit,
			Concurrency: cfg.Reconcile.SweepConcurrency,
		}, appLogger)

	app := &application{
		config:     cfg,
		logger:     appLogger,
		db:         db,
		jwtService: jwtService,
		sweeper:    sweeper,
		tasks:      taskStore,
		reconciler: reconciler,
	}

	if cfg.Reconcile.SweepSchedule != "" {
		sched, err := scheduler.New(cfg.Reconcile.SweepSchedule, sweeper.Sweep, appLogger)
		if err != nil {
			return nil, err
		}
		app.scheduler = sched
	} else {
		appLogger.Info("internal sweep scheduler disabled, expecting external trigger")
	}

	return app, nil
}

// openDatabase connects to Postgres and verifies the connection.
func openDatabase(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
