package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// thumbnailRepo implements domain.ThumbnailRepository using SQLite.
type thumbnailRepo struct {
	db *sql.DB
}

const thumbnailColumns = `id, image_id, width, height, file_type, size, created_at, updated_at`

func scanThumbnail(row rowScanner) (*domain.Thumbnail, error) {
	t := &domain.Thumbnail{}
	if err := row.Scan(&t.ID, &t.ImageID, &t.Width, &t.Height, &t.FileType, &t.Size,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *thumbnailRepo) Create(ctx context.Context, thumb *domain.Thumbnail) error {
	now := time.Now().UTC()
	_, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO thumbnails (`+thumbnailColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		thumb.ID, thumb.ImageID, thumb.Width, thumb.Height, thumb.FileType, thumb.Size, now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err, "thumbnails.") {
			return domain.ErrAlreadyExists
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("image %s: %w", thumb.ImageID, domain.ErrNotFound)
		}
		return wrapErr("insert thumbnail", err)
	}

	thumb.CreatedAt = now
	thumb.UpdatedAt = now
	return nil
}

func (r *thumbnailRepo) GetByID(ctx context.Context, id string) (*domain.Thumbnail, error) {
	t, err := scanThumbnail(getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+thumbnailColumns+` FROM thumbnails WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapErr("get thumbnail", err)
	}
	return t, nil
}

func (r *thumbnailRepo) GetBySize(ctx context.Context, imageID string, width, height int) (*domain.Thumbnail, error) {
	t, err := scanThumbnail(getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+thumbnailColumns+` FROM thumbnails WHERE image_id = ? AND width = ? AND height = ?`,
		imageID, width, height))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapErr("get thumbnail by size", err)
	}
	return t, nil
}

func (r *thumbnailRepo) ListByImage(ctx context.Context, imageID string) ([]domain.Thumbnail, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+thumbnailColumns+` FROM thumbnails WHERE image_id = ? ORDER BY width, height`, imageID)
	if err != nil {
		return nil, wrapErr("list thumbnails", err)
	}
	defer rows.Close()

	var thumbs []domain.Thumbnail
	for rows.Next() {
		t, err := scanThumbnail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		thumbs = append(thumbs, *t)
	}
	return thumbs, rows.Err()
}

func (r *thumbnailRepo) Delete(ctx context.Context, id string) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, "DELETE FROM thumbnails WHERE id = ?", id)
	if err != nil {
		return wrapErr("delete thumbnail", err)
	}
	return requireRow(result)
}

func (r *thumbnailRepo) DeleteByImage(ctx context.Context, imageID string) error {
	if _, err := getExecutor(ctx, r.db).ExecContext(ctx, "DELETE FROM thumbnails WHERE image_id = ?", imageID); err != nil {
		return wrapErr("delete thumbnails by image", err)
	}
	return nil
}
