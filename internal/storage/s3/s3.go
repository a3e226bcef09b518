// Package s3 implements domain.ContentStore on an S3-compatible bucket
// through the MinIO client.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// Client is the subset of the MinIO API the store uses.
type Client interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// minioClient narrows *minio.Object to io.ReadCloser so fakes can satisfy
// Client.
type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucketName, objectName, opts)
}

// Options configures a connection to an S3-compatible endpoint.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type Store struct {
	client Client
	bucket string
}

// New connects to the endpoint and creates the bucket when it is missing.
func New(ctx context.Context, opts Options) (*Store, error) {
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client for %s: %w", opts.Endpoint, err)
	}
	return NewWithClient(ctx, minioClient{mc}, opts.Bucket, opts.Region)
}

// NewWithClient wraps an existing client.
func NewWithClient(ctx context.Context, client Client, bucket, region string) (*Store, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Store{client: client, bucket: bucket}, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: domain.ContentType(fileType(name))})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", domain.ErrStorage, name, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, name string) (data []byte, retErr error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readError(name, err)
	}
	defer func() {
		if closeErr := obj.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("%w: close %s: %w", domain.ErrStorage, name, closeErr)
		}
	}()

	data, err = io.ReadAll(obj)
	if err != nil {
		return nil, s.readError(name, err)
	}
	return data, nil
}

func (s *Store) readError(name string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("get %s: %w", name, domain.ErrNotFound)
	}
	return fmt.Errorf("%w: get %s: %w", domain.ErrStorage, name, err)
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Size(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete is idempotent; S3 does not report missing keys on removal.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: remove %s: %w", domain.ErrStorage, name, err)
	}
	return nil
}

func (s *Store) Size(ctx context.Context, name string) (int64, error) {
	obj, err := s.Stat(ctx, name)
	return obj.Size, err
}

func (s *Store) Stat(ctx context.Context, name string) (domain.StoredObject, error) {
	info, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return domain.StoredObject{}, fmt.Errorf("stat %s: %w", name, domain.ErrNotFound)
		}
		return domain.StoredObject{}, fmt.Errorf("%w: stat %s: %w", domain.ErrStorage, name, err)
	}
	return domain.StoredObject{Name: name, Size: info.Size, ModTime: info.LastModified}, nil
}

func (s *Store) List(ctx context.Context) ([]domain.StoredObject, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []domain.StoredObject
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", domain.ErrStorage, s.bucket, obj.Err)
		}
		objects = append(objects, domain.StoredObject{
			Name:    obj.Key,
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}
	return objects, nil
}

func fileType(name string) string {
	if sn, ok := domain.ParseFilename(name); ok {
		return sn.FileType
	}
	return ""
}
