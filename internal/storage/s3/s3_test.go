package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// Verify that *Store implements domain.ContentStore at compile time.
var _ domain.ContentStore = (*Store)(nil)

type fakeClient struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string][]byte
	types    map[string]string
	failPuts bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		buckets: make(map[string]bool),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

var errNoSuchKey = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}

func (f *fakeClient) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[bucket], nil
}

func (f *fakeClient) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = true
	return nil
}

func (f *fakeClient) PutObject(_ context.Context, _, name string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.failPuts {
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = data
	f.types[name] = opts.ContentType
	return minio.UploadInfo{Key: name, Size: int64(len(data))}, nil
}

func (f *fakeClient) GetObject(_ context.Context, _, name string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return nil, errNoSuchKey
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeClient) StatObject(_ context.Context, _, name string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return minio.ObjectInfo{}, errNoSuchKey
	}
	return minio.ObjectInfo{Key: name, Size: int64(len(data)), LastModified: time.Unix(1700000000, 0)}, nil
}

func (f *fakeClient) RemoveObject(_ context.Context, _, name string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

func (f *fakeClient) ListObjects(ctx context.Context, _ string, _ minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	names := make([]string, 0, len(f.objects))
	for name := range f.objects {
		names = append(names, name)
	}
	sizes := make(map[string]int64, len(names))
	for _, name := range names {
		sizes[name] = int64(len(f.objects[name]))
	}
	f.mu.Unlock()
	sort.Strings(names)

	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		for _, name := range names {
			select {
			case ch <- minio.ObjectInfo{Key: name, Size: sizes[name], LastModified: time.Unix(1700000000, 0)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func newTestStore(t *testing.T) (*Store, *fakeClient) {
	t.Helper()
	fc := newFakeClient()
	s, err := NewWithClient(context.Background(), fc, "images", "")
	require.NoError(t, err)
	return s, fc
}

func TestNewCreatesBucket(t *testing.T) {
	_, fc := newTestStore(t)
	assert.True(t, fc.buckets["images"])
}

func TestWriteReadDelete(t *testing.T) {
	ctx := context.Background()
	s, fc := newTestStore(t)

	require.NoError(t, s.Write(ctx, "abc.png", []byte("png-bytes")))
	assert.Equal(t, "image/png", fc.types["abc.png"])

	data, err := s.Read(ctx, "abc.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	size, err := s.Size(ctx, "abc.png")
	require.NoError(t, err)
	assert.EqualValues(t, 9, size)

	obj, err := s.Stat(ctx, "abc.png")
	require.NoError(t, err)
	assert.Equal(t, "abc.png", obj.Name)
	assert.EqualValues(t, 9, obj.Size)
	assert.Equal(t, time.Unix(1700000000, 0), obj.ModTime)

	require.NoError(t, s.Delete(ctx, "abc.png"))
	require.NoError(t, s.Delete(ctx, "abc.png"))

	ok, err := s.Exists(ctx, "abc.png")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Read(ctx, "abc.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Size(ctx, "abc.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Stat(ctx, "abc.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWriteFailureIsStorageError(t *testing.T) {
	s, fc := newTestStore(t)
	fc.failPuts = true

	err := s.Write(context.Background(), "abc.jpg", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Write(ctx, "a.png", []byte("1")))
	require.NoError(t, s.Write(ctx, "a_5x5.png", []byte("22")))

	objects, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "a.png", objects[0].Name)
	assert.EqualValues(t, 2, objects[1].Size)
}
