package data

import (
	"context"
	"fmt"
	"io"

	"github.com/lk2023060901/filevault/internal/file/biz"
	pkgminio "github.com/lk2023060901/filevault/internal/pkg/minio"
)

// MinIOBlobStore stores content blobs as objects under the configured
// bucket, keyed by the same sharded CAS paths the fs backend uses.
type MinIOBlobStore struct {
	client *pkgminio.Client
	bucket string
}

// NewMinIOBlobStore verifies the bucket exists (creating it if needed)
// and fails fast on a misconfigured client, rather than deferring the
// first error to an upload.
func NewMinIOBlobStore(ctx context.Context, client *pkgminio.Client, bucket string) (*MinIOBlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio blob store: client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("minio blob store: bucket is required")
	}
	if err := client.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return &MinIOBlobStore{client: client, bucket: bucket}, nil
}

// Write uploads the blob as an object at path.
func (s *MinIOBlobStore) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, "application/octet-stream")
	return err
}

// Open returns a streaming reader over the object at path.
func (s *MinIOBlobStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.client.GetObject(ctx, s.bucket, path)
}

// Exists reports whether an object is stored at path.
func (s *MinIOBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, path)
	if err != nil {
		if pkgminio.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object at path.
func (s *MinIOBlobStore) Delete(ctx context.Context, path string) error {
	return s.client.RemoveObject(ctx, s.bucket, path)
}

// ReclaimDirs is a no-op: object stores have no directories, the shard
// prefixes are just key segments.
func (s *MinIOBlobStore) ReclaimDirs(string) {}

var _ biz.BlobStore = (*MinIOBlobStore)(nil)
