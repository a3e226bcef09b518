package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/hasher"
	"github.com/GulDilin/image-deduplication-storage/internal/metrics"
	badgerrepo "github.com/GulDilin/image-deduplication-storage/internal/repository/badger"
	"github.com/GulDilin/image-deduplication-storage/internal/repository/sqlite"
	"github.com/GulDilin/image-deduplication-storage/internal/resize"
	"github.com/GulDilin/image-deduplication-storage/internal/service"
	"github.com/GulDilin/image-deduplication-storage/internal/storage/disk"
	"github.com/GulDilin/image-deduplication-storage/internal/testutil"
)

type testEnv struct {
	store    domain.Store
	files    *disk.Store
	registry *service.ImageRegistry
	thumbs   *service.ThumbnailCache
	metrics  *metrics.Metrics
}

type envOptions struct {
	backend    string
	wrapFiles   func(domain.ContentStore) domain.ContentStore
	wrapResizer func(service.Resizer) service.Resizer
	healOnRead  bool
	metrics    *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, envOptions{backend: "sqlite", healOnRead: true})
}

func newTestEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	ctx := context.Background()

	var store domain.Store
	switch opts.backend {
	case "badger":
		db, err := badgerrepo.Open("")
		if err != nil {
			t.Fatalf("open badger: %v", err)
		}
		store = db
	default:
		db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("New DB: %v", err)
		}
		store = db
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	diskStore, err := disk.New(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	var files domain.ContentStore = diskStore
	if opts.wrapFiles != nil {
		files = opts.wrapFiles(diskStore)
	}

	h, err := hasher.New(hasher.BLAKE3, 10000)
	if err != nil {
		t.Fatalf("hasher.New: %v", err)
	}
	var resizer service.Resizer = resize.New(10000)
	if opts.wrapResizer != nil {
		resizer = opts.wrapResizer(resizer)
	}
	thumbs := service.NewThumbnailCache(store, files, resizer, opts.metrics)
	registry := service.NewImageRegistry(store, files, h, thumbs, opts.metrics, service.RegistryOptions{HealOnRead: opts.healOnRead})
	return &testEnv{store: store, files: diskStore, registry: registry, thumbs: thumbs, metrics: opts.metrics}
}

func (e *testEnv) ingest(t *testing.T, filename string, data []byte, name *string) *service.IngestResult {
	t.Helper()
	res, err := e.registry.Ingest(context.Background(), service.IngestRequest{Filename: filename, Data: data, Name: name})
	if err != nil {
		t.Fatalf("Ingest %s: %v", filename, err)
	}
	return res
}

func (e *testEnv) fileNames(t *testing.T) []string {
	t.Helper()
	objs, err := e.files.List(context.Background())
	if err != nil {
		t.Fatalf("List files: %v", err)
	}
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		names = append(names, o.Name)
	}
	return names
}

func (e *testEnv) exists(t *testing.T, name string) bool {
	t.Helper()
	ok, err := e.files.Exists(context.Background(), name)
	if err != nil {
		t.Fatalf("Exists %s: %v", name, err)
	}
	return ok
}

func samplePNG(t *testing.T, seed uint8) []byte {
	t.Helper()
	return testutil.PNG(t, 40, 20, seed, png.DefaultCompression)
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cfg.Width, cfg.Height
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}

func strPtr(v string) *string {
	return &v
}

// failingFiles wraps a content store and fails selected operations.
type failingFiles struct {
	domain.ContentStore
	failWrite  bool
	failDelete bool
}

var errInjected = errors.New("injected failure")

func (f *failingFiles) Write(ctx context.Context, name string, data []byte) error {
	if f.failWrite {
		return errInjected
	}
	return f.ContentStore.Write(ctx, name, data)
}

// failingResizer renders nothing.
type failingResizer struct {
	service.Resizer
}

func (failingResizer) Render(data []byte, fileType string, w, h int) ([]byte, error) {
	return nil, fmt.Errorf("%w: %w", domain.ErrRenderFailed, errInjected)
}

func (f *failingFiles) Delete(ctx context.Context, name string) error {
	if f.failDelete {
		return errInjected
	}
	return f.ContentStore.Delete(ctx, name)
}
