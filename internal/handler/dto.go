package handler

import (
	"net/url"
	"strconv"
	"time"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/service"
)

// ImageDTO is the JSON representation of an image.
type ImageDTO struct {
	ID               string  `json:"id"`
	OriginalFilename string  `json:"originalFilename"`
	FileType         string  `json:"fileType"`
	Name             *string `json:"name"`
	Hash             string  `json:"hash"`
	Size             int64   `json:"size"`
	DuplicateCounter int     `json:"duplicateCounter"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

func toImageDTO(img *domain.Image) ImageDTO {
	return ImageDTO{
		ID:               img.ID,
		OriginalFilename: img.OriginalFilename,
		FileType:         img.FileType,
		Name:             img.Name,
		Hash:             img.Hash,
		Size:             img.Size,
		DuplicateCounter: img.DuplicateCounter,
		CreatedAt:        img.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        img.UpdatedAt.Format(time.RFC3339),
	}
}

// ThumbnailDTO is the JSON representation of a thumbnail.
type ThumbnailDTO struct {
	ID        string `json:"id"`
	ImageID   string `json:"imageId"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FileType  string `json:"fileType"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"createdAt"`
}

func toThumbnailDTO(t *domain.Thumbnail) ThumbnailDTO {
	return ThumbnailDTO{
		ID:        t.ID,
		ImageID:   t.ImageID,
		Width:     t.Width,
		Height:    t.Height,
		FileType:  t.FileType,
		Size:      t.Size,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}

func toThumbnailDTOs(thumbs []domain.Thumbnail) []ThumbnailDTO {
	dtos := make([]ThumbnailDTO, len(thumbs))
	for i := range thumbs {
		dtos[i] = toThumbnailDTO(&thumbs[i])
	}
	return dtos
}

// PageDTO is one page of the image listing. Next and Previous are links
// to the neighbouring pages, null at either end.
type PageDTO struct {
	Amount   int        `json:"amount"`
	Next     *string    `json:"next"`
	Previous *string    `json:"previous"`
	Items    []ImageDTO `json:"items"`
}

func toPageDTO(page *service.Page, base *url.URL) PageDTO {
	dto := PageDTO{Amount: page.Total, Items: make([]ImageDTO, len(page.Items))}
	for i := range page.Items {
		dto.Items[i] = toImageDTO(&page.Items[i])
	}
	if page.HasNext() {
		dto.Next = pageLink(base, page.Limit, page.Offset+page.Limit)
	}
	if page.HasPrevious() {
		dto.Previous = pageLink(base, page.Limit, max(page.Offset-page.Limit, 0))
	}
	return dto
}

func pageLink(base *url.URL, limit, offset int) *string {
	u := *base
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	link := u.String()
	return &link
}

// ReleaseDTO reports the outcome of a release.
type ReleaseDTO struct {
	ID               string `json:"id"`
	DuplicateCounter int    `json:"duplicateCounter"`
	Deleted          bool   `json:"deleted"`
}

type renameRequest struct {
	Name *string `json:"name"`
}

type thumbnailRequest struct {
	Width  *int     `json:"width"`
	Height *int     `json:"height"`
	Scale  *float64 `json:"scale"`
}

func (r thumbnailRequest) size() domain.SizeRequest {
	return domain.SizeRequest{Width: r.Width, Height: r.Height, Scale: r.Scale}
}
