package domain

import (
	"context"
	"time"
)

// Thumbnail is a cached resized rendition of an Image. At most one exists
// per (ImageID, Width, Height).
type Thumbnail struct {
	ID        string
	ImageID   string
	Width     int
	Height    int
	FileType  string
	Size      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filename is the deterministic content store name of the thumbnail bytes.
func (t *Thumbnail) Filename() string {
	return ThumbnailFilename(t.ImageID, t.Width, t.Height, t.FileType)
}

// ThumbnailRepository handles thumbnail metadata persistence.
type ThumbnailRepository interface {
	Create(ctx context.Context, thumb *Thumbnail) error
	GetByID(ctx context.Context, id string) (*Thumbnail, error)
	GetBySize(ctx context.Context, imageID string, width, height int) (*Thumbnail, error)
	ListByImage(ctx context.Context, imageID string) ([]Thumbnail, error)
	Delete(ctx context.Context, id string) error
	DeleteByImage(ctx context.Context, imageID string) error
}

// SizeRequest is a requested output size. Scale takes precedence over
// Width and Height.
type SizeRequest struct {
	Width  *int
	Height *int
	Scale  *float64
}

// IsZero reports whether no dimension was requested at all.
func (r SizeRequest) IsZero() bool {
	return r.Width == nil && r.Height == nil && r.Scale == nil
}
