package domain

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// ContentStore abstracts raw file byte storage addressed by name.
// Implementations exist for the local filesystem, S3-compatible object
// storage and SQLite BLOBs.
type ContentStore interface {
	Write(ctx context.Context, name string, data []byte) error
	// Read returns ErrNotFound when no object has the given name.
	Read(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Delete is idempotent: deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error
	Size(ctx context.Context, name string) (int64, error)
	// Stat describes one object, or returns ErrNotFound.
	Stat(ctx context.Context, name string) (StoredObject, error)
	List(ctx context.Context) ([]StoredObject, error)
}

// StoredObject describes one entry of a ContentStore.
type StoredObject struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ImageFilename returns the store name of an original image.
func ImageFilename(imageID, fileType string) string {
	return imageID + "." + fileType
}

// ThumbnailFilename returns the store name of a thumbnail.
func ThumbnailFilename(imageID string, width, height int, fileType string) string {
	return fmt.Sprintf("%s_%dx%d.%s", imageID, width, height, fileType)
}

// StoredName is a parsed content store name.
type StoredName struct {
	ImageID   string
	FileType  string
	Thumbnail bool
	Width     int
	Height    int
}

// ParseFilename is the inverse of ImageFilename and ThumbnailFilename.
func ParseFilename(name string) (StoredName, bool) {
	ext := path.Ext(name)
	if ext == "" || strings.ContainsRune(name, '/') {
		return StoredName{}, false
	}
	sn := StoredName{FileType: ext[1:]}
	if !IsAllowedFileType(sn.FileType) {
		return StoredName{}, false
	}
	stem := strings.TrimSuffix(name, ext)

	id, size, found := strings.Cut(stem, "_")
	if id == "" {
		return StoredName{}, false
	}
	sn.ImageID = id
	if !found {
		return sn, true
	}

	ws, hs, ok := strings.Cut(size, "x")
	if !ok {
		return StoredName{}, false
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return StoredName{}, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return StoredName{}, false
	}
	sn.Thumbnail = true
	sn.Width = w
	sn.Height = h
	return sn, true
}
