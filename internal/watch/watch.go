// Package watch reacts to files disappearing from a disk content store,
// so records do not outlive the bytes they describe.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// Images is the part of the image registry the watcher drives.
type Images interface {
	Get(ctx context.Context, id string) (*domain.Image, error)
	RepairIfMissing(ctx context.Context, img *domain.Image) error
}

// Thumbnails is the part of the thumbnail cache the watcher drives.
type Thumbnails interface {
	Forget(ctx context.Context, imageID string, width, height int) error
}

type Watcher struct {
	dir    string
	files  domain.ContentStore
	images Images
	thumbs Thumbnails
}

func New(dir string, files domain.ContentStore, images Images, thumbs Thumbnails) *Watcher {
	return &Watcher{dir: dir, files: files, images: images, thumbs: thumbs}
}

// Run watches the directory until ctx is done. ready, when non-nil, is
// closed once the watch is registered.
func (w *Watcher) Run(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Error("close watcher", "error", err)
		}
	}()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	slog.Info("watching content directory", "directory", w.dir)
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.handleRemoved(ctx, filepath.Base(event.Name))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleRemoved(ctx context.Context, name string) {
	if strings.HasPrefix(name, ".") {
		return
	}
	sn, ok := domain.ParseFilename(name)
	if !ok {
		return
	}
	// The name may already be back, e.g. a thumbnail rendered again.
	exists, err := w.files.Exists(ctx, name)
	if err != nil {
		slog.Error("check removed file", "file", name, "error", err)
		return
	}
	if exists {
		return
	}
	slog.Debug("stored file removed", "file", name)

	if sn.Thumbnail {
		if err := w.thumbs.Forget(ctx, sn.ImageID, sn.Width, sn.Height); err != nil {
			slog.Error("forget thumbnail", "file", name, "error", err)
		}
		return
	}

	img, err := w.images.Get(ctx, sn.ImageID)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error("get image", "file", name, "error", err)
		return
	}
	if img.FileType != sn.FileType {
		return
	}
	err = w.images.RepairIfMissing(ctx, img)
	var ce *domain.CorruptionError
	if err != nil && !errors.As(err, &ce) {
		slog.Error("repair image", "image_id", img.ID, "error", err)
	}
}
