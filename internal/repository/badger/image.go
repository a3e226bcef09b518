package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// imageRepo implements domain.ImageRepository on Badger.
type imageRepo struct {
	d *DB
}

var errStopScan = errors.New("stop scan")

func toImage(r *imageRecord) *domain.Image {
	return &domain.Image{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		FileType:         r.FileType,
		Name:             r.Name,
		Hash:             r.Hash,
		Size:             r.Size,
		DuplicateCounter: r.DuplicateCounter,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func getImage(txn *badger.Txn, id string) (*imageRecord, error) {
	var rec imageRecord
	if err := getRecord(txn, imageKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *imageRepo) Create(ctx context.Context, image *domain.Image) error {
	now := time.Now().UTC()
	rec := &imageRecord{
		ID:               image.ID,
		OriginalFilename: image.OriginalFilename,
		FileType:         image.FileType,
		Name:             image.Name,
		Hash:             image.Hash,
		Size:             image.Size,
		DuplicateCounter: image.DuplicateCounter,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := r.d.update(ctx, func(txn *badger.Txn) error {
		if ok, err := indexExists(txn, imageKey(rec.ID)); err != nil || ok {
			if ok {
				return fmt.Errorf("%w: image id %s", domain.ErrConflict, rec.ID)
			}
			return err
		}
		if ok, err := indexExists(txn, hashKey(rec.Hash)); err != nil || ok {
			if ok {
				return domain.ErrDuplicateHash
			}
			return err
		}
		if rec.Name != nil {
			if ok, err := indexExists(txn, nameKey(*rec.Name)); err != nil || ok {
				if ok {
					return domain.ErrDuplicateName
				}
				return err
			}
			if err := txn.Set(nameKey(*rec.Name), []byte(rec.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(hashKey(rec.Hash), []byte(rec.ID)); err != nil {
			return err
		}
		if err := txn.Set(createdKey(rec.CreatedAt, rec.ID), nil); err != nil {
			return err
		}
		return setRecord(txn, imageKey(rec.ID), rec)
	})
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}

	image.CreatedAt = now
	image.UpdatedAt = now
	return nil
}

func (r *imageRepo) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	var img *domain.Image
	err := r.d.view(ctx, func(txn *badger.Txn) error {
		rec, err := getImage(txn, id)
		if err != nil {
			return err
		}
		img = toImage(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (r *imageRepo) getByIndex(ctx context.Context, key []byte) (*domain.Image, error) {
	var img *domain.Image
	err := r.d.view(ctx, func(txn *badger.Txn) error {
		id, err := getIndex(txn, key)
		if err != nil {
			return err
		}
		rec, err := getImage(txn, id)
		if err != nil {
			return err
		}
		img = toImage(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (r *imageRepo) GetByHash(ctx context.Context, hash string) (*domain.Image, error) {
	return r.getByIndex(ctx, hashKey(hash))
}

func (r *imageRepo) GetByName(ctx context.Context, name string) (*domain.Image, error) {
	return r.getByIndex(ctx, nameKey(name))
}

func (r *imageRepo) List(ctx context.Context, limit, offset int) ([]domain.Image, error) {
	var images []domain.Image
	err := r.d.view(ctx, func(txn *badger.Txn) error {
		var ids []string
		skipped := 0
		err := scanKeys(txn, createdPrefix, func(key []byte) error {
			if skipped < offset {
				skipped++
				return nil
			}
			if len(ids) >= limit {
				return errStopScan
			}
			ids = append(ids, idFromCreatedKey(key))
			return nil
		})
		if err != nil && !errors.Is(err, errStopScan) {
			return err
		}

		for _, id := range ids {
			rec, err := getImage(txn, id)
			if err != nil {
				return fmt.Errorf("load image %s: %w", id, err)
			}
			images = append(images, *toImage(rec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

func (r *imageRepo) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.d.view(ctx, func(txn *badger.Txn) error {
		return scanKeys(txn, imagePrefix, func([]byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

func (r *imageRepo) AdjustCounter(ctx context.Context, id string, delta int) (*domain.Image, error) {
	var img *domain.Image
	err := r.d.update(ctx, func(txn *badger.Txn) error {
		rec, err := getImage(txn, id)
		if err != nil {
			return err
		}
		if rec.DuplicateCounter+delta < 0 {
			return fmt.Errorf("%w: duplicate counter of %s would become negative", domain.ErrInvalidInput, id)
		}
		rec.DuplicateCounter += delta
		rec.UpdatedAt = time.Now().UTC()
		if err := setRecord(txn, imageKey(id), rec); err != nil {
			return err
		}
		img = toImage(rec)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("adjust duplicate counter: %w", err)
	}
	return img, nil
}

func (r *imageRepo) Rename(ctx context.Context, id string, name *string) (*domain.Image, error) {
	var img *domain.Image
	err := r.d.update(ctx, func(txn *badger.Txn) error {
		rec, err := getImage(txn, id)
		if err != nil {
			return err
		}

		if name != nil {
			owner, err := getIndex(txn, nameKey(*name))
			switch {
			case err == nil && owner != id:
				return domain.ErrDuplicateName
			case err != nil && !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}
		if rec.Name != nil {
			if err := txn.Delete(nameKey(*rec.Name)); err != nil {
				return err
			}
		}
		if name != nil {
			if err := txn.Set(nameKey(*name), []byte(id)); err != nil {
				return err
			}
		}

		rec.Name = name
		rec.UpdatedAt = time.Now().UTC()
		if err := setRecord(txn, imageKey(id), rec); err != nil {
			return err
		}
		img = toImage(rec)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrDuplicateName) {
			return nil, err
		}
		return nil, fmt.Errorf("rename image: %w", err)
	}
	return img, nil
}

func (r *imageRepo) Delete(ctx context.Context, id string) error {
	err := r.d.update(ctx, func(txn *badger.Txn) error {
		rec, err := getImage(txn, id)
		if err != nil {
			return err
		}

		hasThumbs := false
		err = scanKeys(txn, sizePrefix(id), func([]byte) error {
			hasThumbs = true
			return errStopScan
		})
		if err != nil && !errors.Is(err, errStopScan) {
			return err
		}
		if hasThumbs {
			return fmt.Errorf("%w: image %s still has thumbnails", domain.ErrConflict, id)
		}

		keys := [][]byte{imageKey(id), hashKey(rec.Hash), createdKey(rec.CreatedAt, id)}
		if rec.Name != nil {
			keys = append(keys, nameKey(*rec.Name))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}
