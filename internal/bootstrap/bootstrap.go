// Package bootstrap provides dependency initialization for the ClipDock server.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clipdock/clipdock/internal/compress"
	"github.com/clipdock/clipdock/internal/config"
	"github.com/clipdock/clipdock/internal/hybrid"
	"github.com/clipdock/clipdock/internal/maintenance"
	"github.com/clipdock/clipdock/internal/metadata"
	"github.com/clipdock/clipdock/internal/recovery"
	"github.com/clipdock/clipdock/internal/storage"
	"github.com/clipdock/clipdock/internal/upload"
	"github.com/clipdock/clipdock/internal/uploadstate"
)

// Dependencies holds all initialized services for the application.
type Dependencies struct {
	Metadata     metadata.Store
	Coordinator  *hybrid.Coordinator
	Engine       *recovery.Engine
	Tracker      *uploadstate.Tracker
	Orchestrator *upload.Orchestrator
	Compress     *compress.Service
	Maintenance  *maintenance.Service
}

// NewDependencies creates and wires all application dependencies.
func NewDependencies(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*Dependencies, error) {
	local, err := storage.NewLocalStore(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	meta, err := metadata.NewFileStore(cfg.StorageRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("create metadata store: %w", err)
	}

	coordinatorOpts, err := remoteOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	coordinator := hybrid.NewCoordinator(meta, local, logger, coordinatorOpts...)

	registry, err := recovery.NewRegistry(cfg.RecoveryDir)
	if err != nil {
		return nil, fmt.Errorf("create orphan registry: %w", err)
	}
	engine := recovery.NewEngine(meta, local, registry, cfg.RecoveryDir, cfg.MinOrphanBytes, logger)

	tracker, err := uploadstate.NewTracker(cfg.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create upload tracker: %w", err)
	}

	orchestrator := upload.NewOrchestrator(coordinator, meta, tracker, engine, upload.Tolerances{
		Idempotency: cfg.IdempotencyTolerance,
		Recovery:    cfg.RecoveryTolerance,
	}, logger)

	compressSvc := compress.NewService(
		compress.NewFFmpegCompressor(cfg.FFmpegPath, cfg.CompressionCRF),
		coordinator,
		logger,
	)

	svc := maintenance.NewService(orchestrator, cfg.RecoveryInterval, cfg.UploadRetentionHours, reg, logger)

	return &Dependencies{
		Metadata:     meta,
		Coordinator:  coordinator,
		Engine:       engine,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Compress:     compressSvc,
		Maintenance:  svc,
	}, nil
}

// remoteOptions builds the coordinator options for the remote store when
// S3 is configured. Without S3 the coordinator runs local-only.
func remoteOptions(cfg *config.Config, logger *slog.Logger) ([]hybrid.Option, error) {
	if !cfg.S3Enabled() {
		logger.Info("remote mirroring disabled, running local-only")
		return nil, nil
	}

	remote, err := storage.NewS3Remote(storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 remote: %w", err)
	}

	logger.Info("S3 remote configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
		slog.Bool("mirroring", cfg.MirrorEnabled),
	)

	opts := []hybrid.Option{
		hybrid.WithRemote(remote),
		hybrid.WithMirroring(cfg.MirrorEnabled),
		hybrid.WithLinkCache(storage.NewLinkCache(remote, cfg.LinkCacheSize, cfg.PresignTTL)),
	}
	return opts, nil
}
