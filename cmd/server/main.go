// Package main is the entry point for the augur forecasting service.
//
// Startup order: configuration, logging, dependency wiring (database, model,
// orchestrator, scheduler), model restore, background jobs, HTTP server.
// SIGINT/SIGTERM trigger a graceful shutdown in reverse order.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/augur/internal/config"
	"github.com/aristath/augur/internal/di"
	"github.com/aristath/augur/internal/scheduler"
	"github.com/aristath/augur/internal/server"
	"github.com/aristath/augur/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger so configuration errors are still reported
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Bool("ml_enabled", cfg.ML.Enabled).
		Msg("Starting augur")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Restore the persisted model before accepting requests
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	container.Orchestrator.Start(startCtx)
	startCancel()
	log.Info().Str("status", string(container.Orchestrator.Status())).Msg("Forecasting started")

	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:       log,
		Container: container,
		Jobs:      []scheduler.Job{jobs.CacheCleanup, jobs.CheckDatabase},
		DataDir:   cfg.DataDir,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// In-flight requests get up to 10 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Scheduler.Stop()

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}

	log.Info().Msg("Server stopped")
}
