package resize_test

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/resize"
	"github.com/GulDilin/image-deduplication-storage/internal/testutil"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestResolveTargetSize(t *testing.T) {
	r := resize.New(10000)

	tests := []struct {
		name       string
		srcW, srcH int
		req        domain.SizeRequest
		w, h       int
		err        error
	}{
		{"width only keeps ratio", 800, 600, domain.SizeRequest{Width: intp(100)}, 100, 75, nil},
		{"height only keeps ratio", 800, 600, domain.SizeRequest{Height: intp(300)}, 400, 300, nil},
		{"width truncates", 1000, 333, domain.SizeRequest{Width: intp(100)}, 100, 33, nil},
		{"both verbatim", 800, 600, domain.SizeRequest{Width: intp(50), Height: intp(500)}, 50, 500, nil},
		{"scale halves", 800, 600, domain.SizeRequest{Scale: floatp(2)}, 400, 300, nil},
		{"scale wins over width", 800, 600, domain.SizeRequest{Width: intp(10), Scale: floatp(4)}, 200, 150, nil},
		{"scale enlarges", 100, 50, domain.SizeRequest{Scale: floatp(0.5)}, 200, 100, nil},
		{"nothing requested", 800, 600, domain.SizeRequest{}, 0, 0, domain.ErrMissingDimension},
		{"zero width", 800, 600, domain.SizeRequest{Width: intp(0)}, 0, 0, domain.ErrInvalidSize},
		{"negative height", 800, 600, domain.SizeRequest{Width: intp(10), Height: intp(-1)}, 0, 0, domain.ErrInvalidSize},
		{"too large", 800, 600, domain.SizeRequest{Width: intp(10001), Height: intp(10)}, 0, 0, domain.ErrInvalidSize},
		{"ratio overflows bound", 10, 2000, domain.SizeRequest{Width: intp(100)}, 0, 0, domain.ErrInvalidSize},
		{"scale collapses to zero", 800, 600, domain.SizeRequest{Scale: floatp(1000)}, 0, 0, domain.ErrInvalidSize},
		{"zero scale", 800, 600, domain.SizeRequest{Scale: floatp(0)}, 0, 0, domain.ErrInvalidSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := r.ResolveTargetSize(tt.srcW, tt.srcH, tt.req)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestResolveTargetSizeIdempotent(t *testing.T) {
	r := resize.New(10000)
	reqs := []domain.SizeRequest{
		{Width: intp(123)},
		{Height: intp(77)},
		{Scale: floatp(3)},
		{Width: intp(640), Height: intp(10)},
	}
	for _, req := range reqs {
		w, h, err := r.ResolveTargetSize(800, 600, req)
		require.NoError(t, err)

		w2, h2, err := r.ResolveTargetSize(800, 600, domain.SizeRequest{Width: intp(w), Height: intp(h)})
		require.NoError(t, err)
		assert.Equal(t, w, w2)
		assert.Equal(t, h, h2)
	}
}

func TestRenderKeepsFormatAndSize(t *testing.T) {
	r := resize.New(10000)

	sources := map[string][]byte{
		"png":  testutil.PNG(t, 80, 60, 5, png.DefaultCompression),
		"jpg":  testutil.JPEG(t, 80, 60, 5),
		"webp": testutil.WebP(t, 80, 60, 5),
	}
	for ft, src := range sources {
		t.Run(ft, func(t *testing.T) {
			orig := bytes.Clone(src)

			out, err := r.Render(src, ft, 40, 30)
			require.NoError(t, err)
			assert.Equal(t, orig, src, "source must not be mutated")

			w, h, err := r.Dimensions(out)
			require.NoError(t, err)
			assert.Equal(t, 40, w)
			assert.Equal(t, 30, h)
		})
	}
}

func TestRenderFailures(t *testing.T) {
	r := resize.New(10000)

	_, err := r.Render([]byte("garbage"), "png", 10, 10)
	assert.ErrorIs(t, err, domain.ErrRenderFailed)

	src := testutil.PNG(t, 10, 10, 1, png.DefaultCompression)
	_, err = r.Render(src, "gif", 5, 5)
	assert.ErrorIs(t, err, domain.ErrRenderFailed)

	_, err = r.Render(src, "png", 0, 5)
	assert.ErrorIs(t, err, domain.ErrRenderFailed)
}

func TestRenderRefusesOversizedSource(t *testing.T) {
	r := resize.New(10000)

	_, err := r.Render(testutil.HugePNG(t, 15000, 15000), "png", 10, 10)
	assert.ErrorIs(t, err, domain.ErrRenderFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidSize)

	small := resize.New(8)
	_, err = small.Render(testutil.PNG(t, 10, 4, 1, png.DefaultCompression), "png", 4, 2)
	assert.ErrorIs(t, err, domain.ErrRenderFailed)
}

func TestDimensions(t *testing.T) {
	r := resize.New(10000)
	w, h, err := r.Dimensions(testutil.JPEG(t, 33, 21, 9))
	require.NoError(t, err)
	assert.Equal(t, 33, w)
	assert.Equal(t, 21, h)

	_, _, err = r.Dimensions([]byte("nope"))
	assert.ErrorIs(t, err, domain.ErrDecode)
}
