package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// fileStore implements domain.ContentStore using SQLite BLOBs.
type fileStore struct {
	db *sql.DB
}

func (s *fileStore) Write(ctx context.Context, name string, data []byte) error {
	_, err := getExecutor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO file_blobs (storage_key, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (storage_key) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		name, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, wrapErr("save file blob", err))
	}
	return nil
}

func (s *fileStore) Read(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := getExecutor(ctx, s.db).QueryRowContext(ctx,
		"SELECT data FROM file_blobs WHERE storage_key = ?", name,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get file blob %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, wrapErr("get file blob", err))
	}
	return data, nil
}

func (s *fileStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Size(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *fileStore) Delete(ctx context.Context, name string) error {
	_, err := getExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM file_blobs WHERE storage_key = ?", name,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, wrapErr("delete file blob", err))
	}
	return nil
}

func (s *fileStore) Size(ctx context.Context, name string) (int64, error) {
	obj, err := s.Stat(ctx, name)
	return obj.Size, err
}

func (s *fileStore) Stat(ctx context.Context, name string) (domain.StoredObject, error) {
	o := domain.StoredObject{Name: name}
	err := getExecutor(ctx, s.db).QueryRowContext(ctx,
		"SELECT length(data), created_at FROM file_blobs WHERE storage_key = ?", name,
	).Scan(&o.Size, &o.ModTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StoredObject{}, fmt.Errorf("stat file blob %s: %w", name, domain.ErrNotFound)
		}
		return domain.StoredObject{}, fmt.Errorf("%w: %w", domain.ErrStorage, wrapErr("stat file blob", err))
	}
	return o, nil
}

func (s *fileStore) List(ctx context.Context) ([]domain.StoredObject, error) {
	rows, err := getExecutor(ctx, s.db).QueryContext(ctx,
		"SELECT storage_key, length(data), created_at FROM file_blobs ORDER BY storage_key")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, wrapErr("list file blobs", err))
	}
	defer rows.Close()

	var objects []domain.StoredObject
	for rows.Next() {
		var o domain.StoredObject
		if err := rows.Scan(&o.Name, &o.Size, &o.ModTime); err != nil {
			return nil, fmt.Errorf("scan file blob: %w", err)
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}
