// Package bootstrap provides dependency initialization for the video pipeline.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/airfobrien/tennispro-sub000/internal/access"
	"github.com/airfobrien/tennispro-sub000/internal/access/cdn"
	"github.com/airfobrien/tennispro-sub000/internal/config"
	"github.com/airfobrien/tennispro-sub000/internal/storage"
	"github.com/airfobrien/tennispro-sub000/internal/thumbnail"
	"github.com/airfobrien/tennispro-sub000/internal/thumbnail/remote"
	"github.com/airfobrien/tennispro-sub000/internal/upload"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Store      storage.ObjectStore
	Workspace  *storage.Workspace
	Issuer     *access.Issuer
	Uploads    *upload.Manager
	Thumbnails *thumbnail.Service
	// Worker is nil when jobs go to an external derivation service.
	Worker *thumbnail.Worker

	closers []func(context.Context) error
}

// Close stops the thumbnail worker and releases external connections.
func (d *Dependencies) Close(ctx context.Context) error {
	if d.Worker != nil {
		d.Worker.Close()
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
// The thumbnail worker, when used, is created but not started.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	store, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Store = store

	workspace, err := storage.NewWorkspace(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	deps.Workspace = workspace

	deps.Issuer, err = NewIssuer(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	deps.Uploads, err = upload.NewManager(store,
		upload.WithPartSize(cfg.PartSizeBytes()),
		upload.WithMaxConcurrentParts(cfg.UploadMaxConcurrentParts),
		upload.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create upload manager: %w", err)
	}

	repo, err := deps.initThumbnailRepository(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	deps.Thumbnails = thumbnail.NewService(repo, logger)

	if cfg.RemoteThumbnails() {
		dispatcher, err := remote.NewDispatcher(cfg.ThumbnailDispatchURL, deps.Issuer,
			remote.WithToken(cfg.ThumbnailDispatchToken),
			remote.WithCallbackBase(cfg.PublicBaseURL),
		)
		if err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("create thumbnail dispatcher: %w", err)
		}
		deps.Thumbnails.SetDispatcher(dispatcher)
		logger.Info("thumbnail jobs dispatched to external service",
			slog.String("endpoint", cfg.ThumbnailDispatchURL),
		)
		return deps, nil
	}

	deps.Worker = thumbnail.NewWorker(
		deps.Thumbnails,
		store,
		workspace,
		thumbnail.NewFFmpegExtractor(cfg.FFmpegPath, cfg.FFprobePath),
		thumbnail.WithWorkers(cfg.ThumbnailWorkers),
		thumbnail.WithWorkerLogger(logger),
	)
	deps.Thumbnails.SetDispatcher(deps.Worker)

	return deps, nil
}

// NewIssuer creates the access URL issuer over store, signing playback URLs
// through CloudFront when it is configured.
func NewIssuer(cfg *config.Config, store storage.Presigner, logger *slog.Logger) (*access.Issuer, error) {
	opts := []access.Option{access.WithLogger(logger)}
	if !cfg.CDNEnabled() {
		logger.Info("CloudFront not configured, playback uses presigned URLs")
		return access.NewIssuer(store, opts...), nil
	}

	signer, err := cdn.NewSigner(cfg.CloudFrontKeyPairID, cfg.CloudFrontPrivateKeyPEM())
	if err != nil {
		return nil, fmt.Errorf("create CloudFront signer: %w", err)
	}
	logger.Info("CloudFront signing configured",
		slog.String("domain", cfg.CloudFrontDomain),
		slog.String("key_pair_id", cfg.CloudFrontKeyPairID),
	)
	return access.NewIssuer(store, append(opts, access.WithCDN(signer, cfg.CloudFrontDomain))...), nil
}

// NewStore creates the object store selected by STORAGE_DRIVER.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	switch cfg.StorageDriver {
	case config.DriverS3:
		s3Store, err := storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:          cfg.S3VideosBucket,
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3VideosBucket),
			slog.String("region", cfg.AWSRegion),
		)
		return s3Store, nil

	case config.DriverMinio:
		host, useSSL := cfg.MinioEndpoint()
		minioStore, err := storage.NewMinioBackend(storage.MinioConfig{
			Endpoint:        host,
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3VideosBucket,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			UseSSL:          useSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create MinIO storage: %w", err)
		}
		logger.Info("MinIO storage configured",
			slog.String("endpoint", host),
			slog.String("bucket", cfg.S3VideosBucket),
		)
		return minioStore, nil

	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownDriver, cfg.StorageDriver)
	}
}

func (d *Dependencies) initThumbnailRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (thumbnail.Repository, error) {
	if !cfg.MongoEnabled() {
		logger.Info("thumbnail jobs kept in memory")
		return thumbnail.NewMemoryRepository(), nil
	}

	client, err := thumbnail.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	d.closers = append(d.closers, client.Disconnect)

	repo := thumbnail.NewMongoRepository(client.Database(cfg.MongoDatabase))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create thumbnail indexes: %w", err)
	}

	logger.Info("thumbnail jobs stored in MongoDB",
		slog.String("database", cfg.MongoDatabase),
	)
	return repo, nil
}
