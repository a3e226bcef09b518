package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/metrics"
)

// Resizer resolves target sizes and renders resized copies.
type Resizer interface {
	Dimensions(data []byte) (int, int, error)
	ResolveTargetSize(srcW, srcH int, req domain.SizeRequest) (int, int, error)
	Render(data []byte, fileType string, w, h int) ([]byte, error)
}

// ThumbnailCache maintains at most one stored rendition per image and
// resolved size.
type ThumbnailCache struct {
	store   domain.Store
	files   domain.ContentStore
	resizer Resizer
	metrics *metrics.Metrics

	// renders collapses concurrent misses for the same image and size.
	renders singleflight.Group
}

func NewThumbnailCache(store domain.Store, files domain.ContentStore, resizer Resizer, m *metrics.Metrics) *ThumbnailCache {
	return &ThumbnailCache{store: store, files: files, resizer: resizer, metrics: m}
}

// GetOrCreate returns the thumbnail of img at the resolved size,
// rendering and storing it on a miss.
func (c *ThumbnailCache) GetOrCreate(ctx context.Context, img *domain.Image, size domain.SizeRequest) (*domain.Thumbnail, error) {
	src, w, h, err := c.resolve(ctx, img, size)
	if err != nil {
		return nil, err
	}

	existing, err := c.store.Thumbnails().GetBySize(ctx, img.ID, w, h)
	if err == nil {
		c.metrics.ThumbnailLookup(true)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get thumbnail: %w", err)
	}
	c.metrics.ThumbnailLookup(false)

	key := fmt.Sprintf("%s/%dx%d", img.ID, w, h)
	v, err, _ := c.renders.Do(key, func() (any, error) {
		thumb, _, err := c.create(context.WithoutCancel(ctx), img, src, w, h)
		return thumb, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Thumbnail), nil
}

// CreateExplicit renders and stores a thumbnail, failing with
// ErrAlreadyExists when one of the resolved size is already present.
func (c *ThumbnailCache) CreateExplicit(ctx context.Context, img *domain.Image, size domain.SizeRequest) (*domain.Thumbnail, error) {
	src, w, h, err := c.resolve(ctx, img, size)
	if err != nil {
		return nil, err
	}

	_, err = c.store.Thumbnails().GetBySize(ctx, img.ID, w, h)
	if err == nil {
		return nil, fmt.Errorf("%w: %dx%d", domain.ErrAlreadyExists, w, h)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get thumbnail: %w", err)
	}

	thumb, created, err := c.create(ctx, img, src, w, h)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: %dx%d", domain.ErrAlreadyExists, w, h)
	}
	return thumb, nil
}

// Open returns the thumbnail and its bytes. A thumbnail whose file has
// gone missing is dropped and rendered again.
func (c *ThumbnailCache) Open(ctx context.Context, img *domain.Image, size domain.SizeRequest) (*domain.Thumbnail, []byte, error) {
	thumb, err := c.GetOrCreate(ctx, img, size)
	if err != nil {
		return nil, nil, err
	}
	data, err := c.files.Read(ctx, thumb.Filename())
	if err == nil {
		return thumb, data, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: read thumbnail: %w", domain.ErrStorage, err)
	}

	slog.Warn("thumbnail file missing, rendering again", "thumbnail_id", thumb.ID, "file", thumb.Filename())
	if err := c.Forget(ctx, thumb.ImageID, thumb.Width, thumb.Height); err != nil {
		return nil, nil, err
	}
	thumb, err = c.GetOrCreate(ctx, img, size)
	if err != nil {
		return nil, nil, err
	}
	data, err = c.files.Read(ctx, thumb.Filename())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read thumbnail: %w", domain.ErrStorage, err)
	}
	return thumb, data, nil
}

func (c *ThumbnailCache) Get(ctx context.Context, id string) (*domain.Thumbnail, error) {
	thumb, err := c.store.Thumbnails().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get thumbnail: %w", err)
	}
	return thumb, nil
}

// ListForImage returns the thumbnails of an existing image.
func (c *ThumbnailCache) ListForImage(ctx context.Context, imageID string) ([]domain.Thumbnail, error) {
	if _, err := c.store.Images().GetByID(ctx, imageID); err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	thumbs, err := c.store.Thumbnails().ListByImage(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("list thumbnails: %w", err)
	}
	return thumbs, nil
}

// DeleteOne removes a thumbnail row and then its file.
func (c *ThumbnailCache) DeleteOne(ctx context.Context, id string) error {
	var thumb *domain.Thumbnail
	err := retryOnce(ctx, "delete thumbnail", func(ctx context.Context) error {
		return c.store.InTx(ctx, func(ctx context.Context) error {
			var err error
			thumb, err = c.store.Thumbnails().GetByID(ctx, id)
			if err != nil {
				return err
			}
			return c.store.Thumbnails().Delete(ctx, id)
		})
	})
	if err != nil {
		return fmt.Errorf("delete thumbnail: %w", err)
	}
	return deleteFiles(ctx, c.files, thumb.Filename())
}

// DeleteAllForImage removes every thumbnail of an image.
func (c *ThumbnailCache) DeleteAllForImage(ctx context.Context, imageID string) error {
	var thumbs []domain.Thumbnail
	err := retryOnce(ctx, "delete thumbnails", func(ctx context.Context) error {
		return c.store.InTx(ctx, func(ctx context.Context) error {
			if _, err := c.store.Images().GetByID(ctx, imageID); err != nil {
				return err
			}
			var err error
			thumbs, err = c.store.Thumbnails().ListByImage(ctx, imageID)
			if err != nil {
				return err
			}
			return c.store.Thumbnails().DeleteByImage(ctx, imageID)
		})
	})
	if err != nil {
		return fmt.Errorf("delete thumbnails: %w", err)
	}
	return deleteFiles(ctx, c.files, thumbnailFilenames(thumbs)...)
}

// Forget drops the row of a thumbnail whose file is gone. A missing row is
// not an error.
func (c *ThumbnailCache) Forget(ctx context.Context, imageID string, width, height int) error {
	err := retryOnce(ctx, "forget thumbnail", func(ctx context.Context) error {
		return c.store.InTx(ctx, func(ctx context.Context) error {
			thumb, err := c.store.Thumbnails().GetBySize(ctx, imageID, width, height)
			if err != nil {
				return err
			}
			return c.store.Thumbnails().Delete(ctx, thumb.ID)
		})
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("forget thumbnail: %w", err)
	}
	return nil
}

// resolve reads the source image and computes the target size.
func (c *ThumbnailCache) resolve(ctx context.Context, img *domain.Image, size domain.SizeRequest) ([]byte, int, int, error) {
	src, err := c.files.Read(ctx, img.Filename())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, 0, 0, &domain.CorruptionError{ImageID: img.ID, Filename: img.Filename()}
		}
		return nil, 0, 0, fmt.Errorf("%w: read source: %w", domain.ErrStorage, err)
	}
	srcW, srcH, err := c.resizer.Dimensions(src)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %w", domain.ErrRenderFailed, err)
	}
	w, h, err := c.resizer.ResolveTargetSize(srcW, srcH, size)
	if err != nil {
		return nil, 0, 0, err
	}
	return src, w, h, nil
}

// create renders outside the transaction, then inserts the row and writes
// the file inside one. It reports false when another writer got there
// first, in which case the existing thumbnail is returned.
func (c *ThumbnailCache) create(ctx context.Context, img *domain.Image, src []byte, w, h int) (*domain.Thumbnail, bool, error) {
	data, err := c.resizer.Render(src, img.FileType, w, h)
	if err != nil {
		return nil, false, err
	}

	var (
		result  *domain.Thumbnail
		created bool
	)
	err = retryOnce(ctx, "create thumbnail", func(ctx context.Context) error {
		result, created = nil, false
		written := ""
		err := c.store.InTx(ctx, func(ctx context.Context) error {
			existing, err := c.store.Thumbnails().GetBySize(ctx, img.ID, w, h)
			if err == nil {
				result = existing
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}

			thumb := &domain.Thumbnail{
				ID:       uuid.NewString(),
				ImageID:  img.ID,
				Width:    w,
				Height:   h,
				FileType: img.FileType,
				Size:     int64(len(data)),
			}
			if err := c.store.Thumbnails().Create(ctx, thumb); err != nil {
				return err
			}
			if err := c.files.Write(ctx, thumb.Filename(), data); err != nil {
				return fmt.Errorf("%w: write thumbnail: %w", domain.ErrStorage, err)
			}
			written = thumb.Filename()
			result, created = thumb, true
			return nil
		})
		if err != nil && written != "" {
			c.discard(ctx, img.ID, w, h, written)
		}
		return err
	}, domain.ErrAlreadyExists)
	if err != nil {
		return nil, false, fmt.Errorf("create thumbnail: %w", err)
	}
	if created {
		slog.Info("thumbnail created", "image_id", img.ID, "width", w, "height", h)
	}
	return result, created, nil
}

// discard removes a thumbnail file written by a failed transaction unless
// a committed row now owns the same name.
func (c *ThumbnailCache) discard(ctx context.Context, imageID string, w, h int, name string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := c.store.Thumbnails().GetBySize(ctx, imageID, w, h); err == nil {
		return
	}
	cleanupFile(ctx, c.files, name)
}

func thumbnailFilenames(thumbs []domain.Thumbnail) []string {
	names := make([]string, 0, len(thumbs))
	for i := range thumbs {
		names = append(names, thumbs[i].Filename())
	}
	return names
}

// deleteFiles removes committed-deleted files. Every name is attempted;
// failures are joined into one storage error.
func deleteFiles(ctx context.Context, files domain.ContentStore, names ...string) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, name := range names {
		if err := files.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrStorage, errors.Join(errs...))
	}
	return nil
}
