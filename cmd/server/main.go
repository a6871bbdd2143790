// Package main provides the entry point for the ClipDock server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipdock/clipdock/internal/bootstrap"
	"github.com/clipdock/clipdock/internal/config"
	"github.com/clipdock/clipdock/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting ClipDock",
		slog.String("storage_root", cfg.StorageRoot),
		slog.String("state_dir", cfg.StateDir),
		slog.String("recovery_dir", cfg.RecoveryDir),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("mirror_enabled", cfg.MirrorEnabled),
		slog.Duration("recovery_interval", cfg.RecoveryInterval),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize dependencies using bootstrap
	registry := prometheus.NewRegistry()
	deps, err := bootstrap.NewDependencies(cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Rebuild the metadata index so records survive index corruption
	ctx := context.Background()
	count, err := deps.Metadata.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild metadata index: %w", err)
	}
	logger.Info("metadata index rebuilt", slog.Int("records", count))

	// Start the background recovery loop
	deps.Maintenance.Start(ctx)
	defer deps.Maintenance.Stop()

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Coordinator, deps.Orchestrator, deps.Compress, deps.Maintenance, logger)
	router := server.NewRouter(handlers, logger, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Allow for large video transfers
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
