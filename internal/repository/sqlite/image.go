package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// imageRepo implements domain.ImageRepository using SQLite.
type imageRepo struct {
	db *sql.DB
}

const imageColumns = `id, original_filename, file_type, name, hash, size, duplicate_counter, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*domain.Image, error) {
	img := &domain.Image{}
	var name sql.NullString
	if err := row.Scan(&img.ID, &img.OriginalFilename, &img.FileType, &name, &img.Hash,
		&img.Size, &img.DuplicateCounter, &img.CreatedAt, &img.UpdatedAt); err != nil {
		return nil, err
	}
	if name.Valid {
		img.Name = &name.String
	}
	return img, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r *imageRepo) Create(ctx context.Context, image *domain.Image) error {
	now := time.Now().UTC()
	_, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		image.ID, image.OriginalFilename, image.FileType, nullable(image.Name), image.Hash,
		image.Size, image.DuplicateCounter, now, now,
	)
	if err != nil {
		switch {
		case isUniqueConstraintError(err, "images.name"):
			return domain.ErrDuplicateName
		case isUniqueConstraintError(err, "images.hash"):
			return domain.ErrDuplicateHash
		}
		return wrapErr("insert image", err)
	}

	image.CreatedAt = now
	image.UpdatedAt = now
	return nil
}

func (r *imageRepo) getBy(ctx context.Context, column string, value any) (*domain.Image, error) {
	img, err := scanImage(getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE `+column+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapErr("get image by "+column, err)
	}
	return img, nil
}

func (r *imageRepo) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	return r.getBy(ctx, "id", id)
}

func (r *imageRepo) GetByHash(ctx context.Context, hash string) (*domain.Image, error) {
	return r.getBy(ctx, "hash", hash)
}

func (r *imageRepo) GetByName(ctx context.Context, name string) (*domain.Image, error) {
	return r.getBy(ctx, "name", name)
}

func (r *imageRepo) List(ctx context.Context, limit, offset int) ([]domain.Image, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, wrapErr("list images", err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

func (r *imageRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := getExecutor(ctx, r.db).QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, wrapErr("count images", err)
	}
	return n, nil
}

func (r *imageRepo) AdjustCounter(ctx context.Context, id string, delta int) (*domain.Image, error) {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE images SET duplicate_counter = duplicate_counter + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC(), id)
	if err != nil {
		return nil, wrapErr("adjust duplicate counter", err)
	}
	if err := requireRow(result); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *imageRepo) Rename(ctx context.Context, id string, name *string) (*domain.Image, error) {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE images SET name = ?, updated_at = ? WHERE id = ?`,
		nullable(name), time.Now().UTC(), id)
	if err != nil {
		if isUniqueConstraintError(err, "images.name") {
			return nil, domain.ErrDuplicateName
		}
		return nil, wrapErr("rename image", err)
	}
	if err := requireRow(result); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *imageRepo) Delete(ctx context.Context, id string) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: image %s still has thumbnails", domain.ErrConflict, id)
		}
		return wrapErr("delete image", err)
	}
	return requireRow(result)
}

// requireRow maps an update or delete that matched nothing to ErrNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
