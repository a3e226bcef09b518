package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// thumbnailRepo implements domain.ThumbnailRepository on Badger.
type thumbnailRepo struct {
	d *DB
}

func toThumbnail(r *thumbnailRecord) *domain.Thumbnail {
	return &domain.Thumbnail{
		ID:        r.ID,
		ImageID:   r.ImageID,
		Width:     r.Width,
		Height:    r.Height,
		FileType:  r.FileType,
		Size:      r.Size,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func getThumbnail(txn *badger.Txn, id string) (*thumbnailRecord, error) {
	var rec thumbnailRecord
	if err := getRecord(txn, thumbnailKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *thumbnailRepo) Create(ctx context.Context, thumb *domain.Thumbnail) error {
	now := time.Now().UTC()
	rec := &thumbnailRecord{
		ID:        thumb.ID,
		ImageID:   thumb.ImageID,
		Width:     thumb.Width,
		Height:    thumb.Height,
		FileType:  thumb.FileType,
		Size:      thumb.Size,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.d.update(ctx, func(txn *badger.Txn) error {
		if _, err := getImage(txn, rec.ImageID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("image %s: %w", rec.ImageID, domain.ErrNotFound)
			}
			return err
		}
		for _, k := range [][]byte{sizeKey(rec.ImageID, rec.Width, rec.Height), thumbnailKey(rec.ID)} {
			ok, err := indexExists(txn, k)
			if err != nil {
				return err
			}
			if ok {
				return domain.ErrAlreadyExists
			}
		}
		if err := txn.Set(sizeKey(rec.ImageID, rec.Width, rec.Height), []byte(rec.ID)); err != nil {
			return err
		}
		return setRecord(txn, thumbnailKey(rec.ID), rec)
	})
	if err != nil {
		return fmt.Errorf("insert thumbnail: %w", err)
	}

	thumb.CreatedAt = now
	thumb.UpdatedAt = now
	return nil
}

func (r *thumbnailRepo) GetByID(ctx context.Context, id string) (*domain.Thumbnail, error) {
	var t *domain.Thumbnail
	err := r.d.view(ctx, func(txn *badger.Txn) error {
		rec, err := getThumbnail(txn, id)
		if err != nil {
			return err
		}
		t = toThumbnail(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *thumbnailRepo) GetBySize(ctx context.Context, imageID string, width, height int) (*domain.Thumbnail, error) {
	var t *domain.Thumbnail
	err := r.d.view(ctx, func(txn *badger.Txn) error {
		id, err := getIndex(txn, sizeKey(imageID, width, height))
		if err != nil {
			return err
		}
		rec, err := getThumbnail(txn, id)
		if err != nil {
			return err
		}
		t = toThumbnail(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// listIDs returns the thumbnail ids of an image ordered by width, height.
func listIDs(txn *badger.Txn, imageID string) ([]string, error) {
	var keys [][]byte
	if err := scanKeys(txn, sizePrefix(imageID), func(key []byte) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id, err := getIndex(txn, k)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *thumbnailRepo) ListByImage(ctx context.Context, imageID string) ([]domain.Thumbnail, error) {
	var thumbs []domain.Thumbnail
	err := r.d.view(ctx, func(txn *badger.Txn) error {
		ids, err := listIDs(txn, imageID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := getThumbnail(txn, id)
			if err != nil {
				return fmt.Errorf("load thumbnail %s: %w", id, err)
			}
			thumbs = append(thumbs, *toThumbnail(rec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list thumbnails: %w", err)
	}
	return thumbs, nil
}

func deleteThumbnail(txn *badger.Txn, rec *thumbnailRecord) error {
	if err := txn.Delete(sizeKey(rec.ImageID, rec.Width, rec.Height)); err != nil {
		return err
	}
	return txn.Delete(thumbnailKey(rec.ID))
}

func (r *thumbnailRepo) Delete(ctx context.Context, id string) error {
	err := r.d.update(ctx, func(txn *badger.Txn) error {
		rec, err := getThumbnail(txn, id)
		if err != nil {
			return err
		}
		return deleteThumbnail(txn, rec)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete thumbnail: %w", err)
	}
	return nil
}

func (r *thumbnailRepo) DeleteByImage(ctx context.Context, imageID string) error {
	err := r.d.update(ctx, func(txn *badger.Txn) error {
		ids, err := listIDs(txn, imageID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := getThumbnail(txn, id)
			if err != nil {
				return err
			}
			if err := deleteThumbnail(txn, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete thumbnails by image: %w", err)
	}
	return nil
}
