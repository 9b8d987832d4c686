// Package main provides the entry point for the video pipeline API server.
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

	"github.com/airfobrien/tennispro-sub000/internal/bootstrap"
	"github.com/airfobrien/tennispro-sub000/internal/config"
	"github.com/airfobrien/tennispro-sub000/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting video API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.Int("upload_part_size_mb", cfg.UploadPartSizeMB),
		slog.Int("upload_max_concurrent_parts", cfg.UploadMaxConcurrentParts),
		slog.Bool("cdn_enabled", cfg.CDNEnabled()),
		slog.Bool("mongo_enabled", cfg.MongoEnabled()),
		slog.Bool("remote_thumbnails", cfg.RemoteThumbnails()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// The worker outlives the signal context so queued jobs can drain on shutdown.
	if deps.Worker != nil {
		deps.Worker.Start(context.WithoutCancel(ctx))
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Issuer, deps.Uploads, deps.Thumbnails, deps.Workspace, logger)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Minute, // Server-side uploads stream up to 5 GiB
		WriteTimeout:      35 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

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
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		_ = deps.Close(context.Background())
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	if err := deps.Close(shutdownCtx); err != nil {
		logger.Warn("failed to release dependencies", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}
