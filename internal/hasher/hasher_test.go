package hasher_test

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/hasher"
	"github.com/GulDilin/image-deduplication-storage/internal/testutil"
)

func TestFingerprintIgnoresEncoding(t *testing.T) {
	fast := testutil.PNG(t, 40, 30, 1, png.BestSpeed)
	best := testutil.PNG(t, 40, 30, 1, png.BestCompression)
	webp := testutil.WebP(t, 40, 30, 1)
	require.False(t, bytes.Equal(fast, best), "fixtures must differ byte-wise")

	for _, algo := range []string{hasher.BLAKE3, hasher.BLAKE2b, hasher.SHA256} {
		t.Run(algo, func(t *testing.T) {
			h, err := hasher.New(algo, 10000)
			require.NoError(t, err)

			a, err := h.Fingerprint(fast)
			require.NoError(t, err)
			b, err := h.Fingerprint(best)
			require.NoError(t, err)
			c, err := h.Fingerprint(webp)
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.Equal(t, a, c)
			assert.True(t, strings.HasPrefix(a, algo+":"), "got %q", a)
		})
	}
}

func TestFingerprintDistinguishesPixels(t *testing.T) {
	h, err := hasher.New(hasher.BLAKE3, 10000)
	require.NoError(t, err)

	a, err := h.Fingerprint(testutil.PNG(t, 40, 30, 1, png.DefaultCompression))
	require.NoError(t, err)
	b, err := h.Fingerprint(testutil.PNG(t, 40, 30, 2, png.DefaultCompression))
	require.NoError(t, err)
	// Transposed dimensions.
	c, err := h.Fingerprint(testutil.PNG(t, 30, 40, 1, png.DefaultCompression))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprintRejectsGarbage(t *testing.T) {
	h, err := hasher.New(hasher.SHA256, 10000)
	require.NoError(t, err)

	_, err = h.Fingerprint([]byte("definitely not an image"))
	assert.ErrorIs(t, err, domain.ErrDecode)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewUnknownAlgorithm(t *testing.T) {
	_, err := hasher.New("md5", 10000)
	assert.Error(t, err)
}

func TestFingerprintRejectsOversizedHeader(t *testing.T) {
	h, err := hasher.New(hasher.BLAKE3, 10000)
	require.NoError(t, err)

	huge := testutil.HugePNG(t, 15000, 15000)
	require.Less(t, len(huge), 1024, "header-only fixture should stay tiny")

	_, err = h.Fingerprint(huge)
	assert.ErrorIs(t, err, domain.ErrDecode)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// One axis over the bound is enough.
	_, err = h.Fingerprint(testutil.HugePNG(t, 10001, 1))
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestFingerprintAcceptsBound(t *testing.T) {
	h, err := hasher.New(hasher.BLAKE3, 40)
	require.NoError(t, err)

	_, err = h.Fingerprint(testutil.PNG(t, 40, 30, 1, png.DefaultCompression))
	assert.NoError(t, err)
	_, err = h.Fingerprint(testutil.PNG(t, 41, 30, 1, png.DefaultCompression))
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestNewRejectsNonPositiveBound(t *testing.T) {
	_, err := hasher.New(hasher.BLAKE3, 0)
	assert.Error(t, err)
}
