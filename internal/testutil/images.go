// Package testutil generates deterministic images for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/HugoSmits86/nativewebp"
)

// Pattern returns an opaque w×h image whose pixels depend on seed.
func Pattern(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*7) + seed,
				G: uint8(y*13) ^ seed,
				B: uint8(x*y) + seed*3,
				A: 255,
			})
		}
	}
	return img
}

// PNG encodes a Pattern image with the given compression level.
func PNG(t testing.TB, w, h int, seed uint8, level png.CompressionLevel) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, Pattern(w, h, seed)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes a Pattern image as JPEG.
func JPEG(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Pattern(w, h, seed), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// WebP encodes a Pattern image as lossless WebP.
func WebP(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, Pattern(w, h, seed), nil); err != nil {
		t.Fatalf("encode webp: %v", err)
	}
	return buf.Bytes()
}

// HugePNG returns a small PNG whose header declares w×h pixels. Only the
// header is valid; decoding the pixels fails or allocates w×h.
func HugePNG(t testing.TB, w, h int) []byte {
	t.Helper()
	data := PNG(t, 1, 1, 0, png.BestCompression)
	// 8-byte signature, then the IHDR chunk: length, type, 13 data bytes, CRC.
	ihdr := data[12:29]
	if string(ihdr[:4]) != "IHDR" {
		t.Fatalf("unexpected first chunk %q", ihdr[:4])
	}
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(w))
	binary.BigEndian.PutUint32(ihdr[8:12], uint32(h))
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(ihdr))
	return data
}
