// Package main provides the entry point for the mediaflow server.
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

	"github.com/maauso/mediaflow/internal/bootstrap"
	"github.com/maauso/mediaflow/internal/config"
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

	logger.Info("starting mediaflow",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("record_backend", cfg.RecordBackend()),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Duration("progress_interval", cfg.ProgressInterval),
		slog.Int("frame_count", cfg.FrameCount),
		slog.Int("max_concurrent_extractions", cfg.MaxConcurrentExtractions),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(startCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("failed to close record store", slog.String("error", err.Error()))
		}
	}()

	if cfg.ResumeInterrupted {
		if _, err := deps.Service.ResumeInterrupted(startCtx); err != nil {
			logger.Warn("failed to resume interrupted runs", slog.String("error", err.Error()))
		}
	}

	// Create HTTP server. WriteTimeout stays zero: playback responses are
	// long-lived and bounded per write by the streaming writer.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           deps.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
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
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("stopping processing runs", slog.Int("active", deps.Machine.Active()))
	if err := deps.Machine.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop processing: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
