package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/metrics"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Fingerprinter derives the content identity of encoded image data.
type Fingerprinter interface {
	Fingerprint(data []byte) (string, error)
}

// RegistryOptions tunes ImageRegistry behaviour.
type RegistryOptions struct {
	// HealOnRead checks that the stored file exists before serving an
	// image and removes the record when it does not.
	HealOnRead bool
}

// ImageRegistry owns image records and their stored bytes. Every row
// mutation runs in one transaction together with the file write it
// depends on.
type ImageRegistry struct {
	store   domain.Store
	files   domain.ContentStore
	hasher  Fingerprinter
	thumbs  *ThumbnailCache
	metrics *metrics.Metrics
	opts    RegistryOptions
}

func NewImageRegistry(store domain.Store, files domain.ContentStore, hasher Fingerprinter, thumbs *ThumbnailCache, m *metrics.Metrics, opts RegistryOptions) *ImageRegistry {
	return &ImageRegistry{
		store:   store,
		files:   files,
		hasher:  hasher,
		thumbs:  thumbs,
		metrics: m,
		opts:    opts,
	}
}

// IngestRequest is one upload.
type IngestRequest struct {
	Filename string
	Data     []byte
	// Name is the optional display name. Empty is treated as unset.
	Name *string
}

// IngestResult is the image an upload resolved to.
type IngestResult struct {
	Image *domain.Image
	// Duplicate is set when the content was already stored and only the
	// duplicate counter moved.
	Duplicate bool
}

// Ingest stores new content, or counts another reference to content
// already stored. The name of a duplicate upload is ignored.
func (r *ImageRegistry) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	fileType, err := domain.FileTypeFromFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", domain.ErrInvalidInput)
	}
	name := normalizeName(req.Name)

	hash, err := r.hasher.Fingerprint(req.Data)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	var result *IngestResult
	err = retryOnce(ctx, "ingest", func(ctx context.Context) error {
		result = nil
		written := ""
		err := r.store.InTx(ctx, func(ctx context.Context) error {
			existing, err := r.store.Images().GetByHash(ctx, hash)
			if err == nil {
				img, err := r.store.Images().AdjustCounter(ctx, existing.ID, 1)
				if err != nil {
					return err
				}
				result = &IngestResult{Image: img, Duplicate: true}
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}

			if name != nil {
				if _, err := r.store.Images().GetByName(ctx, *name); err == nil {
					return fmt.Errorf("%w: %q", domain.ErrDuplicateName, *name)
				} else if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
			}

			img := &domain.Image{
				ID:               uuid.NewString(),
				OriginalFilename: domain.TruncateFilename(req.Filename),
				FileType:         fileType,
				Name:             name,
				Hash:             hash,
				Size:             int64(len(req.Data)),
				DuplicateCounter: 1,
			}
			if err := r.store.Images().Create(ctx, img); err != nil {
				return err
			}
			if err := r.files.Write(ctx, img.Filename(), req.Data); err != nil {
				return fmt.Errorf("%w: write image: %w", domain.ErrStorage, err)
			}
			written = img.Filename()
			result = &IngestResult{Image: img}
			return nil
		})
		if err != nil && written != "" {
			cleanupFile(ctx, r.files, written)
		}
		return err
	}, domain.ErrDuplicateHash)
	if err != nil {
		return nil, fmt.Errorf("ingest image: %w", err)
	}

	r.metrics.Ingest(result.Duplicate)
	if result.Duplicate {
		slog.Info("duplicate image ingested", "image_id", result.Image.ID, "duplicate_counter", result.Image.DuplicateCounter)
	} else {
		slog.Info("image stored", "image_id", result.Image.ID, "file_type", fileType, "size", result.Image.Size)
	}
	return result, nil
}

func (r *ImageRegistry) Get(ctx context.Context, id string) (*domain.Image, error) {
	img, err := r.store.Images().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (r *ImageRegistry) GetByName(ctx context.Context, name string) (*domain.Image, error) {
	img, err := r.store.Images().GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get image by name: %w", err)
	}
	return img, nil
}

// Lookup resolves an identifier that is either an image id or a display
// name. Strings that parse as UUIDs are tried as ids first.
func (r *ImageRegistry) Lookup(ctx context.Context, idOrName string) (*domain.Image, error) {
	if _, err := uuid.Parse(idOrName); err == nil {
		img, err := r.store.Images().GetByID(ctx, idOrName)
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("get image: %w", err)
		}
	}
	img, err := r.store.Images().GetByName(ctx, idOrName)
	if err != nil {
		return nil, fmt.Errorf("lookup image %q: %w", idOrName, err)
	}
	return img, nil
}

// Page is one slice of the image listing, ordered by creation time.
type Page struct {
	Items  []domain.Image
	Total  int
	Limit  int
	Offset int
}

// HasNext reports whether images exist past this page.
func (p *Page) HasNext() bool {
	return p.Offset+len(p.Items) < p.Total
}

// HasPrevious reports whether images exist before this page.
func (p *Page) HasPrevious() bool {
	return p.Offset > 0
}

func (r *ImageRegistry) List(ctx context.Context, limit, offset int) (*Page, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidInput, MaxPageSize)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidInput)
	}

	page := &Page{Limit: limit, Offset: offset}
	err := r.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		if page.Total, err = r.store.Images().Count(ctx); err != nil {
			return err
		}
		page.Items, err = r.store.Images().List(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return page, nil
}

// Rename sets or clears the display name of an image.
func (r *ImageRegistry) Rename(ctx context.Context, id string, name *string) (*domain.Image, error) {
	name = normalizeName(name)
	var img *domain.Image
	err := retryOnce(ctx, "rename", func(ctx context.Context) error {
		return r.store.InTx(ctx, func(ctx context.Context) error {
			if name != nil {
				other, err := r.store.Images().GetByName(ctx, *name)
				if err == nil && other.ID != id {
					return fmt.Errorf("%w: %q", domain.ErrDuplicateName, *name)
				}
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					return err
				}
			}
			var err error
			img, err = r.store.Images().Rename(ctx, id, name)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rename image: %w", err)
	}
	return img, nil
}

// ReleaseResult reports what a release did.
type ReleaseResult struct {
	// Image is the updated record, or the removed one when Deleted.
	Image   *domain.Image
	Deleted bool
}

// Release drops one reference to an image. The last release removes the
// image together with its thumbnails. Rows go first; files are deleted
// after commit.
func (r *ImageRegistry) Release(ctx context.Context, id string) (*ReleaseResult, error) {
	var (
		result *ReleaseResult
		thumbs []domain.Thumbnail
	)
	err := retryOnce(ctx, "release", func(ctx context.Context) error {
		result, thumbs = nil, nil
		return r.store.InTx(ctx, func(ctx context.Context) error {
			img, err := r.store.Images().AdjustCounter(ctx, id, -1)
			if err != nil {
				return err
			}
			if img.DuplicateCounter > 0 {
				result = &ReleaseResult{Image: img}
				return nil
			}
			if thumbs, err = r.store.Thumbnails().ListByImage(ctx, id); err != nil {
				return err
			}
			if err := r.store.Thumbnails().DeleteByImage(ctx, id); err != nil {
				return err
			}
			if err := r.store.Images().Delete(ctx, id); err != nil {
				return err
			}
			result = &ReleaseResult{Image: img, Deleted: true}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("release image: %w", err)
	}

	r.metrics.Release(result.Deleted)
	if !result.Deleted {
		return result, nil
	}
	slog.Info("image deleted", "image_id", id, "thumbnails", len(thumbs))
	names := append(thumbnailFilenames(thumbs), result.Image.Filename())
	if err := deleteFiles(ctx, r.files, names...); err != nil {
		return nil, fmt.Errorf("release image: %w", err)
	}
	return result, nil
}

// RepairIfMissing checks that the file of img is stored. When it is not,
// the image and its thumbnails are removed and a *domain.CorruptionError
// is returned.
func (r *ImageRegistry) RepairIfMissing(ctx context.Context, img *domain.Image) error {
	ok, err := r.files.Exists(ctx, img.Filename())
	if err != nil {
		return fmt.Errorf("%w: check image file: %w", domain.ErrStorage, err)
	}
	if ok {
		return nil
	}
	return r.heal(ctx, img)
}

func (r *ImageRegistry) heal(ctx context.Context, img *domain.Image) error {
	var thumbs []domain.Thumbnail
	err := retryOnce(ctx, "heal", func(ctx context.Context) error {
		thumbs = nil
		return r.store.InTx(ctx, func(ctx context.Context) error {
			var err error
			if thumbs, err = r.store.Thumbnails().ListByImage(ctx, img.ID); err != nil {
				return err
			}
			if err := r.store.Thumbnails().DeleteByImage(ctx, img.ID); err != nil {
				return err
			}
			return r.store.Images().Delete(ctx, img.ID)
		})
	})
	corrupted := &domain.CorruptionError{ImageID: img.ID, Filename: img.Filename()}
	if errors.Is(err, domain.ErrNotFound) {
		slog.Debug("corrupted image already removed", "image_id", img.ID)
		return corrupted
	}
	if err != nil {
		return fmt.Errorf("remove corrupted image: %w", err)
	}

	r.metrics.Heal()
	slog.Warn("image file missing, record removed", "image_id", img.ID, "file", img.Filename(), "thumbnails", len(thumbs))
	if err := deleteFiles(ctx, r.files, thumbnailFilenames(thumbs)...); err != nil {
		slog.Error("remove thumbnails of corrupted image", "image_id", img.ID, "error", err)
	}
	return corrupted
}

// File is image or thumbnail content ready to be served.
type File struct {
	// Name is the download filename.
	Name        string
	FileType    string
	ContentType string
	Data        []byte
	Image       *domain.Image
	Thumbnail   *domain.Thumbnail
}

// OpenFile returns the bytes of an image, or of its thumbnail when a size
// is requested.
func (r *ImageRegistry) OpenFile(ctx context.Context, idOrName string, size domain.SizeRequest) (*File, error) {
	img, err := r.servable(ctx, idOrName)
	if err != nil {
		return nil, err
	}

	f := &File{
		Name:        img.OriginalFilename,
		FileType:    img.FileType,
		ContentType: domain.ContentType(img.FileType),
		Image:       img,
	}
	if size.IsZero() {
		f.Data, err = r.files.Read(ctx, img.Filename())
		if errors.Is(err, domain.ErrNotFound) {
			if r.opts.HealOnRead {
				return nil, r.heal(ctx, img)
			}
			return nil, &domain.CorruptionError{ImageID: img.ID, Filename: img.Filename()}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read image: %w", domain.ErrStorage, err)
		}
		return f, nil
	}

	thumb, data, err := r.thumbs.Open(ctx, img, size)
	if err != nil {
		return nil, r.healIfCorrupted(ctx, img, err)
	}
	f.Thumbnail = thumb
	f.Data = data
	f.Name = thumbnailDownloadName(img.OriginalFilename, thumb.Width, thumb.Height)
	return f, nil
}

// CreateThumbnail explicitly renders a thumbnail of an image.
func (r *ImageRegistry) CreateThumbnail(ctx context.Context, idOrName string, size domain.SizeRequest) (*domain.Thumbnail, error) {
	img, err := r.servable(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	thumb, err := r.thumbs.CreateExplicit(ctx, img, size)
	if err != nil {
		return nil, r.healIfCorrupted(ctx, img, err)
	}
	return thumb, nil
}

// servable looks up an image and, with heal-on-read, verifies its file.
func (r *ImageRegistry) servable(ctx context.Context, idOrName string) (*domain.Image, error) {
	img, err := r.Lookup(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if r.opts.HealOnRead {
		if err := r.RepairIfMissing(ctx, img); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (r *ImageRegistry) healIfCorrupted(ctx context.Context, img *domain.Image, err error) error {
	var ce *domain.CorruptionError
	if r.opts.HealOnRead && errors.As(err, &ce) {
		return r.heal(ctx, img)
	}
	return err
}

func normalizeName(name *string) *string {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func thumbnailDownloadName(original string, w, h int) string {
	ext := path.Ext(original)
	return fmt.Sprintf("%s_%dx%d%s", strings.TrimSuffix(original, ext), w, h, ext)
}
