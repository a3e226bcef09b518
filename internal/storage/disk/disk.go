// Package disk implements domain.ContentStore on a local directory.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

const tempPrefix = ".tmp-"

// Store keeps one file per name directly under its directory. Writes go
// through a temporary file and a rename, so readers never observe a
// partially written object.
type Store struct {
	dir string
}

// New creates dir if needed and returns a Store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid object name %q", domain.ErrInvalidInput, name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Store) Write(ctx context.Context, name string, data []byte) (retErr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", domain.ErrStorage, err)
	}
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", domain.ErrStorage, name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", domain.ErrStorage, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrStorage, name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("%w: rename %s: %w", domain.ErrStorage, name, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrStorage, name, err)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Size(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrStorage, name, err)
	}
	return nil
}

func (s *Store) Size(ctx context.Context, name string) (int64, error) {
	obj, err := s.Stat(ctx, name)
	return obj.Size, err
}

func (s *Store) Stat(ctx context.Context, name string) (domain.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredObject{}, err
	}
	p, err := s.path(name)
	if err != nil {
		return domain.StoredObject{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.StoredObject{}, fmt.Errorf("stat %s: %w", name, domain.ErrNotFound)
		}
		return domain.StoredObject{}, fmt.Errorf("%w: stat %s: %w", domain.ErrStorage, name, err)
	}
	return domain.StoredObject{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List returns every regular file in the directory except in-flight
// temporary files.
func (s *Store) List(ctx context.Context) ([]domain.StoredObject, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", domain.ErrStorage, s.dir, err)
	}

	objects := make([]domain.StoredObject, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // removed concurrently
			}
			return nil, fmt.Errorf("%w: stat %s: %w", domain.ErrStorage, entry.Name(), err)
		}
		objects = append(objects, domain.StoredObject{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}
