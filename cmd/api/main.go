// Package main is the entry point for the travel planner API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mkjmk-alt/travel-planner/internal/config"
	"github.com/mkjmk-alt/travel-planner/internal/handler"
	"github.com/mkjmk-alt/travel-planner/internal/middleware"
	"github.com/mkjmk-alt/travel-planner/internal/repo"
	"github.com/mkjmk-alt/travel-planner/internal/service"
	"github.com/mkjmk-alt/travel-planner/internal/store"
	"github.com/mkjmk-alt/travel-planner/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// --- Logger -----------------------------------------------------------
	// JSON handler writes machine-readable output suitable for log aggregators.
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Trip store -------------------------------------------------------
	trips, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → Logger → Recoverer
	// → CORS → body limit. The auth gate only wraps the trip routes so the
	// health check stays public.
	srv := handler.NewServer(
		service.NewTripService(trips),
		service.NewExportService(trips),
		logger,
	)
	gate := middleware.NewAuthGate(cfg.AuthJWTSecret, cfg.AuthIssuer, logger)
	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set; every request acts as the local user")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))
	r.Mount("/", srv.Routes(gate.Handler))

	// --- HTTP Server ------------------------------------------------------
	// The event stream clears its own write deadline, so WriteTimeout only
	// bounds ordinary responses.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", httpSrv.Addr, "store", cfg.StoreBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give in-flight requests up to 15 seconds to complete. Open event
	// streams end as soon as ctx is cancelled above.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// openStore builds the TripStore selected by cfg.StoreBackend. The returned
// func releases everything the store holds.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.TripStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRemote:
		return openRemote(ctx, cfg, logger)
	default:
		kv, err := repo.OpenSQLiteKV(cfg.LocalDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open local database: %w", err)
		}
		local, err := store.NewLocal(ctx, kv, cfg.LocalStorageKey, logger)
		if err != nil {
			_ = kv.Close()
			return nil, nil, err
		}
		logger.Info("local store ready", "path", cfg.LocalDBPath)
		return local, func() { _ = kv.Close() }, nil
	}
}

func openRemote(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.TripStore, func(), error) {
	// pgxpool manages a pool of Postgres connections.
	// New() does not open connections immediately; the first query does.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create database pool: %w", err)
	}

	// Verify the DB is reachable before accepting traffic.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connection established")

	if cfg.MigrateOnStart {
		db := stdlib.OpenDBFromPool(pool)
		results, err := migrations.Up(ctx, db)
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied", "count", len(results))
	}

	remote := store.NewRemote(repo.NewTripRepo(pool), repo.NewChangeFeed(pool), cfg.MirrorIdleTTL, logger)
	feedCtx, stopFeed := context.WithCancel(ctx)
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		_ = remote.Run(feedCtx)
	}()

	return remote, func() {
		stopFeed()
		<-feedDone
		remote.Close()
		pool.Close()
	}, nil
}
