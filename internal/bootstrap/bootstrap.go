// Package bootstrap wires configuration into the services used by the HTTP
// server and the command line tool.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/pickerexport/internal/config"
	"github.com/maauso/pickerexport/internal/export"
	"github.com/maauso/pickerexport/internal/job"
	"github.com/maauso/pickerexport/internal/media"
	"github.com/maauso/pickerexport/internal/storage"
)

// Dependencies holds all initialized dependencies.
type Dependencies struct {
	Service   *job.Service
	Pipeline  *export.Pipeline
	Prober    media.Prober
	Processor media.Processor
	Storage   storage.Storage
	Container media.Container

	closers []func() error
}

// Close releases resources held by the dependencies, such as the job database.
func (d *Dependencies) Close() error {
	var firstErr error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.closers = nil
	return firstErr
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	preset, err := media.ParsePreset(cfg.VideoPreset)
	if err != nil {
		return nil, err
	}
	container := media.Container(cfg.VideoContainer)

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	prober := media.NewFFprobeProber(cfg.FFprobePath)
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)
	renderer := media.NewFFmpegRenderer(cfg.FFmpegPath, container)

	pipeline := export.NewPipeline(renderer, store,
		export.WithPreset(preset),
		export.WithBackgroundCompression(cfg.BackgroundCompression),
		export.WithPollInterval(cfg.ProgressPollInterval),
		export.WithLogger(logger),
	)

	deps := &Dependencies{
		Pipeline:  pipeline,
		Prober:    prober,
		Processor: processor,
		Storage:   store,
		Container: container,
	}

	repo, err := initRepository(cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	svc := job.NewService(repo, prober, pipeline, processor, store, logger)
	svc.SetMaxConcurrentCrops(cfg.MaxConcurrentCrops)
	svc.SetContainer(container)
	deps.Service = svc

	return deps, nil
}

// initRepository opens the configured job store and registers its closer.
func initRepository(cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Repository, error) {
	if cfg.JobStore != config.JobStoreSQLite {
		logger.Info("in-memory job store configured")
		return job.NewMemoryRepository(), nil
	}

	repo, err := job.OpenSQLiteRepository(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	deps.closers = append(deps.closers, repo.Close)
	logger.Info("sqlite job store configured",
		slog.String("db_path", repo.Path()),
	)
	return repo, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
