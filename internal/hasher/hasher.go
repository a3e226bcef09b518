// Package hasher computes content fingerprints over decoded pixels, so that
// files which differ only in encoding produce the same fingerprint.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/HugoSmits86/nativewebp"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/draw"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

const (
	BLAKE3  = "blake3"
	BLAKE2b = "blake2b"
	SHA256  = "sha256"
)

// Hasher fingerprints image bytes. It is safe for concurrent use.
type Hasher struct {
	algorithm    string
	newHash      func() hash.Hash
	maxDimension int
}

// New returns a Hasher for the named algorithm. Images wider or taller
// than maxDimension are rejected before their pixels are decoded.
func New(algorithm string, maxDimension int) (*Hasher, error) {
	var fn func() hash.Hash
	switch algorithm {
	case BLAKE3:
		fn = func() hash.Hash { return blake3.New() }
	case BLAKE2b:
		fn = func() hash.Hash {
			h, _ := blake2b.New256(nil) // only fails for oversized keys
			return h
		}
	case SHA256:
		fn = sha256.New
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
	if maxDimension <= 0 {
		return nil, fmt.Errorf("max dimension must be positive, got %d", maxDimension)
	}
	return &Hasher{algorithm: algorithm, newHash: fn, maxDimension: maxDimension}, nil
}

// Algorithm returns the algorithm name used as the fingerprint prefix.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Fingerprint decodes data and digests its canonical pixel buffer. The
// result has the form "<algorithm>:<hex digest>".
func (h *Hasher) Fingerprint(data []byte) (string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if cfg.Width > h.maxDimension || cfg.Height > h.maxDimension {
		return "", fmt.Errorf("%w: %dx%d exceeds %d pixels per side", domain.ErrDecode, cfg.Width, cfg.Height, h.maxDimension)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	pix := canonical(img)

	d := h.newHash()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(pix.Rect.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(pix.Rect.Dy()))
	d.Write(dims[:])
	d.Write(pix.Pix)

	return h.algorithm + ":" + hex.EncodeToString(d.Sum(nil)), nil
}

// canonical converts img to a tightly packed NRGBA buffer anchored at the
// origin, independent of the decoder's native color model.
func canonical(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
