// Package bootstrap provides dependency initialization for mediaflow.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/mediaflow/internal/auth"
	"github.com/maauso/mediaflow/internal/classify"
	"github.com/maauso/mediaflow/internal/config"
	"github.com/maauso/mediaflow/internal/fanout"
	"github.com/maauso/mediaflow/internal/library"
	"github.com/maauso/mediaflow/internal/media"
	"github.com/maauso/mediaflow/internal/metrics"
	"github.com/maauso/mediaflow/internal/pipeline"
	"github.com/maauso/mediaflow/internal/realtime"
	"github.com/maauso/mediaflow/internal/record"
	"github.com/maauso/mediaflow/internal/server"
	"github.com/maauso/mediaflow/internal/storage"
	"github.com/maauso/mediaflow/internal/streaming"
)

// subscriberBuffer is the per-connection event buffer of the fan-out.
const subscriberBuffer = 64

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Router  http.Handler
	Service *library.Service
	Machine *pipeline.Machine
	Broker  *fanout.Broker

	closeRepo func() error
}

// Close releases the record store.
func (d *Dependencies) Close() error {
	if d.closeRepo == nil {
		return nil
	}
	return d.closeRepo()
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	scratch, err := storage.NewScratch(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("create scratch area: %w", err)
	}

	// Initialize storage
	store, err := initStorage(ctx, cfg, scratch, logger)
	if err != nil {
		return nil, err
	}

	// Initialize record store
	repo, closeRepo, err := initRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create verifier: %w", err), closeRepo())
	}

	broker := fanout.NewBroker(subscriberBuffer, metrics.NewFanoutObserver(), logger)

	extractor := media.NewFFmpegExtractor(media.ExtractorConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Width:       cfg.FrameWidth,
		Height:      cfg.FrameHeight,
	})
	classifier := classify.NewClassifier(classify.Thresholds{
		Luminance: cfg.LuminanceThreshold,
		Red:       cfg.RedThreshold,
	}, logger)

	machine := pipeline.NewMachine(pipeline.Deps{
		Repo:       repo,
		Extractor:  extractor,
		Classifier: classifier,
		Store:      store,
		Scratch:    scratch,
		Publisher:  broker,
		Observer:   metrics.NewPipelineObserver(),
		Logger:     logger,
	}, pipeline.Config{
		TickInterval:             cfg.ProgressInterval,
		MinStep:                  cfg.ProgressMinStep,
		MaxStep:                  cfg.ProgressMaxStep,
		FrameCount:               cfg.FrameCount,
		ExtractTimeout:           cfg.ExtractTimeout,
		MaxConcurrentExtractions: cfg.MaxConcurrentExtractions,
	})

	streamer := streaming.NewServer(store, logger, streaming.WithStreamedBytes(metrics.AddStreamedBytes))
	svc := library.NewService(repo, store, machine, broker, streamer, logger)

	wsConfig := realtime.DefaultConfig()
	wsConfig.AllowedOrigins = cfg.AllowedOrigins
	ws := realtime.NewHandler(broker, verifier, wsConfig, logger)

	handlers := server.NewHandlers(svc, logger, server.WithMaxUploadBytes(cfg.MaxUploadBytes))
	router := server.NewRouter(handlers, ws, verifier, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &Dependencies{
		Router:    router,
		Service:   svc,
		Machine:   machine,
		Broker:    broker,
		closeRepo: closeRepo,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, scratch *storage.Scratch, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(ctx, s3Cfg, scratch)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("storage_dir", cfg.StorageDir),
	)
	return localStore, nil
}

// initRepository opens the record store selected by the configuration.
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (record.Repository, func() error, error) {
	switch cfg.RecordBackend() {
	case config.BackendPostgres:
		repo, err := record.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres record store: %w", err)
		}
		logger.Info("postgres record store configured")
		return repo, repo.Close, nil
	case config.BackendSQLite:
		repo, err := record.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite record store: %w", err)
		}
		logger.Info("sqlite record store configured", slog.String("path", cfg.SQLitePath))
		return repo, repo.Close, nil
	default:
		logger.Warn("in-memory record store configured; records are lost on restart")
		return record.NewMemoryRepository(), func() error { return nil }, nil
	}
}
