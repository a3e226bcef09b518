// Package resize resolves requested output sizes and renders resampled
// copies of images in their source format.
package resize

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

const jpegQuality = 90

// Resizer is stateless apart from its bounds and safe for concurrent use.
type Resizer struct {
	maxDimension int
}

// New returns a Resizer that rejects target sizes above maxDimension.
func New(maxDimension int) *Resizer {
	return &Resizer{maxDimension: maxDimension}
}

// Dimensions reads the pixel size of encoded image data without decoding
// the full image.
func (r *Resizer) Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return cfg.Width, cfg.Height, nil
}

// ResolveTargetSize computes the output size for a request against a
// source of srcW×srcH. A scale divides both source dimensions. A single
// dimension keeps the aspect ratio. Fractions are truncated.
func (r *Resizer) ResolveTargetSize(srcW, srcH int, req domain.SizeRequest) (int, int, error) {
	var w, h int
	switch {
	case req.Scale != nil:
		s := *req.Scale
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return 0, 0, fmt.Errorf("%w: scale must be positive, got %v", domain.ErrInvalidSize, s)
		}
		w = int(float64(srcW) / s)
		h = int(float64(srcH) / s)
	case req.Width != nil && req.Height != nil:
		w, h = *req.Width, *req.Height
	case req.Width != nil:
		w = *req.Width
		if w <= 0 || srcW <= 0 {
			return 0, 0, r.sizeError(w, 0)
		}
		h = int(int64(w) * int64(srcH) / int64(srcW))
	case req.Height != nil:
		h = *req.Height
		if h <= 0 || srcH <= 0 {
			return 0, 0, r.sizeError(0, h)
		}
		w = int(int64(h) * int64(srcW) / int64(srcH))
	default:
		return 0, 0, domain.ErrMissingDimension
	}

	if w <= 0 || h <= 0 || w > r.maxDimension || h > r.maxDimension {
		return 0, 0, r.sizeError(w, h)
	}
	return w, h, nil
}

func (r *Resizer) sizeError(w, h int) error {
	return fmt.Errorf("%w: %dx%d is outside 1..%d", domain.ErrInvalidSize, w, h, r.maxDimension)
}

// Render resamples data to exactly w×h and encodes the result as fileType.
// data is not modified. Sources larger than the bounds are refused before
// their pixels are decoded.
func (r *Resizer) Render(data []byte, fileType string, w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 || w > r.maxDimension || h > r.maxDimension {
		return nil, fmt.Errorf("%w: target %w", domain.ErrRenderFailed, r.sizeError(w, h))
	}
	srcW, srcH, err := r.Dimensions(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRenderFailed, err)
	}
	if srcW > r.maxDimension || srcH > r.maxDimension {
		return nil, fmt.Errorf("%w: source %w", domain.ErrRenderFailed, r.sizeError(srcW, srcH))
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode source: %v", domain.ErrRenderFailed, err)
	}

	dst := imaging.Resize(src, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	switch fileType {
	case "jpg", "jpeg":
		err = imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case "png":
		err = imaging.Encode(&buf, dst, imaging.PNG)
	case "webp":
		err = nativewebp.Encode(&buf, dst, nil)
	default:
		return nil, fmt.Errorf("%w: cannot encode %q", domain.ErrRenderFailed, fileType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrRenderFailed, fileType, err)
	}
	return buf.Bytes(), nil
}
