package domain

import (
	"context"
	"time"
)

// MaxFilenameLength is how many trailing characters of an uploaded filename
// are kept.
const MaxFilenameLength = 300

// Image is one logical stored image, identified by its content fingerprint.
type Image struct {
	ID               string
	OriginalFilename string
	FileType         string
	Name             *string // Optional display name, unique when set
	Hash             string  // Pixel fingerprint, unique
	Size             int64   // Stored file size in bytes
	DuplicateCounter int     // Number of ingestions referencing this content
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Filename is the deterministic content store name of the image bytes.
func (i *Image) Filename() string {
	return ImageFilename(i.ID, i.FileType)
}

// ImageRepository handles image metadata persistence.
type ImageRepository interface {
	Create(ctx context.Context, image *Image) error
	GetByID(ctx context.Context, id string) (*Image, error)
	GetByHash(ctx context.Context, hash string) (*Image, error)
	GetByName(ctx context.Context, name string) (*Image, error)
	List(ctx context.Context, limit, offset int) ([]Image, error)
	Count(ctx context.Context) (int, error)
	// AdjustCounter adds delta to the duplicate counter and returns the
	// updated image.
	AdjustCounter(ctx context.Context, id string, delta int) (*Image, error)
	// Rename sets or clears the display name and returns the updated image.
	Rename(ctx context.Context, id string, name *string) (*Image, error)
	Delete(ctx context.Context, id string) error
}

// TruncateFilename keeps the last MaxFilenameLength characters of name.
func TruncateFilename(name string) string {
	r := []rune(name)
	if len(r) <= MaxFilenameLength {
		return name
	}
	return string(r[len(r)-MaxFilenameLength:])
}
