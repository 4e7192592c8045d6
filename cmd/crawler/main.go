package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyanife/douyu-barrage-crawler/internal/config"
	"github.com/cyanife/douyu-barrage-crawler/internal/crawler"
	"github.com/cyanife/douyu-barrage-crawler/internal/ops"
	"github.com/cyanife/douyu-barrage-crawler/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the relational store: postgres when configured,
	// embedded sqlite otherwise.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.RoomsTable)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		st = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath, cfg.RoomsTable)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		st = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite database")
	}
	defer st.Close()

	if err := st.EnsureRoomTable(ctx); err != nil {
		logger.Fatal().Err(err).Msg("control table migration failed")
	}

	// Initialize Redis fan-out when configured
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Fleet controller
	fleet := crawler.NewFleet(st, redisStore, cfg, logger)
	fleetDone := make(chan struct{})
	go func() {
		fleet.Run(ctx)
		close(fleetDone)
	}()

	// Ops server (/health, /rooms, /metrics)
	srv := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      ops.NewRouter(logger, st, redisStore, fleet),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().
			Str("port", cfg.OpsPort).
			Str("env", cfg.Env).
			Msg("starting ops server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("ops server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")
	cancel()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-fleetDone:
	case <-shutdownCtx.Done():
		logger.Error().Msg("fleet forced to shutdown")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops server forced to shutdown")
	}

	logger.Info().Msg("crawler stopped")
}
