package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/GulDilin/image-deduplication-storage/internal/config"
	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/hasher"
	"github.com/GulDilin/image-deduplication-storage/internal/metrics"
	badgerrepo "github.com/GulDilin/image-deduplication-storage/internal/repository/badger"
	"github.com/GulDilin/image-deduplication-storage/internal/repository/sqlite"
	"github.com/GulDilin/image-deduplication-storage/internal/resize"
	"github.com/GulDilin/image-deduplication-storage/internal/service"
	"github.com/GulDilin/image-deduplication-storage/internal/storage/disk"
	"github.com/GulDilin/image-deduplication-storage/internal/storage/s3"
)

// app holds the wired services of one command run.
type app struct {
	cfg        config.Config
	store      domain.Store
	files      domain.ContentStore
	registry   *service.ImageRegistry
	thumbs     *service.ThumbnailCache
	reconciler *service.Reconciler
	promReg    *prometheus.Registry
}

// newApp opens storage, applies migrations and builds the services.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), store.Close())
	}

	files, err := openFiles(ctx, cfg.Storage, store)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	h, err := hasher.New(cfg.Images.HashAlgorithm, cfg.Images.MaxDimension)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	thumbs := service.NewThumbnailCache(store, files, resize.New(cfg.Images.MaxDimension), m)
	registry := service.NewImageRegistry(store, files, h, thumbs, m, service.RegistryOptions{HealOnRead: cfg.Images.HealOnRead})
	reconciler := service.NewReconciler(store, files, registry, thumbs, m, service.ReconcileOptions{
		MinAge:  cfg.Reconcile.MinAge,
		Workers: cfg.Reconcile.Workers,
	})

	return &app{
		cfg:        cfg,
		store:      store,
		files:      files,
		registry:   registry,
		thumbs:     thumbs,
		reconciler: reconciler,
		promReg:    promReg,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(cfg config.DatabaseConfig) (domain.Store, error) {
	switch cfg.Driver {
	case "badger":
		db, err := badgerrepo.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		db, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	}
}

func openFiles(ctx context.Context, cfg config.StorageConfig, store domain.Store) (domain.ContentStore, error) {
	switch cfg.Backend {
	case "sqlite":
		db, ok := store.(*sqlite.DB)
		if !ok {
			return nil, errors.New("storage backend sqlite requires the sqlite database driver")
		}
		return db.FileStore(), nil
	case "s3":
		st, err := s3.New(ctx, s3.Options{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 storage: %w", err)
		}
		return st, nil
	default:
		st, err := disk.New(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}
