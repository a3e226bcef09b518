package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/storage/disk"
	"github.com/GulDilin/image-deduplication-storage/internal/watch"
)

type fakeImages struct {
	mu       sync.Mutex
	images   map[string]*domain.Image
	repaired []string
}

func (f *fakeImages) Get(_ context.Context, id string) (*domain.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return img, nil
}

func (f *fakeImages) RepairIfMissing(_ context.Context, img *domain.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repaired = append(f.repaired, img.ID)
	delete(f.images, img.ID)
	return &domain.CorruptionError{ImageID: img.ID, Filename: img.Filename()}
}

func (f *fakeImages) repairedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.repaired...)
}

type fakeThumbs struct {
	mu        sync.Mutex
	forgotten []string
}

func (f *fakeThumbs) Forget(_ context.Context, imageID string, width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, domain.ThumbnailFilename(imageID, width, height, "png"))
	return nil
}

func (f *fakeThumbs) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forgotten...)
}

func TestWatcher_ReactsToRemovedFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := disk.New(dir)
	require.NoError(t, err)

	img := &domain.Image{ID: "img1", FileType: "png"}
	images := &fakeImages{images: map[string]*domain.Image{img.ID: img}}
	thumbs := &fakeThumbs{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctxWrite := context.Background()
	require.NoError(t, store.Write(ctxWrite, img.Filename(), []byte("a")))
	thumbName := domain.ThumbnailFilename(img.ID, 4, 2, "png")
	require.NoError(t, store.Write(ctxWrite, thumbName, []byte("b")))
	require.NoError(t, store.Write(ctxWrite, "readme.txt", []byte("c")))

	w := watch.New(dir, store, images, thumbs)
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, ready) }()
	<-ready

	require.NoError(t, os.Remove(filepath.Join(dir, "readme.txt")))
	require.NoError(t, os.Remove(filepath.Join(dir, thumbName)))
	require.NoError(t, os.Remove(filepath.Join(dir, img.Filename())))

	assert.Eventually(t, func() bool {
		return len(images.repairedIDs()) == 1 && len(thumbs.names()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"img1"}, images.repairedIDs())
	assert.Equal(t, []string{thumbName}, thumbs.names())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "absent")
	store := &disk.Store{}
	w := watch.New(dir, store, &fakeImages{}, &fakeThumbs{})
	err := w.Run(context.Background(), nil)
	assert.Error(t, err)
}
