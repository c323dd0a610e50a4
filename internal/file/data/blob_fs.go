package data

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lk2023060901/filevault/internal/file/biz"
	"go.uber.org/zap"
)

// FSBlobStore stores content blobs under a sharded directory tree rooted
// at root. Writes go through a temp file and rename, so a crashed write
// never leaves a partial blob at a content path.
type FSBlobStore struct {
	root   string
	logger *zap.Logger
}

// NewFSBlobStore creates the store and its root directory.
func NewFSBlobStore(root string, logger *zap.Logger) (*FSBlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("fs blob store: root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fs blob store: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("fs blob store: create root: %w", err)
	}

	return &FSBlobStore{root: abs, logger: logger}, nil
}

// Root returns the absolute storage root.
func (s *FSBlobStore) Root() string {
	return s.root
}

func (s *FSBlobStore) fullPath(path string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("fs blob store: path %q escapes root", path)
	}
	return full, nil
}

// Write stores the blob at path, creating shard directories as needed.
func (s *FSBlobStore) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fs blob store: create shard dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".write-*")
	if err != nil {
		return fmt.Errorf("fs blob store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("fs blob store: short write: %d of %d bytes", written, size)
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fs blob store: publish blob: %w", err)
	}
	return nil
}

// Open returns a reader over the blob at path.
func (s *FSBlobStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("fs blob store: open blob: %w", err)
	}
	return f, nil
}

// Exists reports whether a blob is stored at path.
func (s *FSBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("fs blob store: stat blob: %w", err)
}

// Delete removes the blob at path.
func (s *FSBlobStore) Delete(ctx context.Context, path string) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fs blob store: delete blob: %w", err)
	}
	return nil
}

// ReclaimDirs walks upward from the deleted blob's parent toward the
// storage root, removing each directory only while it is empty. A
// non-empty directory or a denied removal is a normal stop, not an error:
// a concurrent upload may repopulate a shard mid-walk.
func (s *FSBlobStore) ReclaimDirs(path string) {
	full, err := s.fullPath(path)
	if err != nil {
		return
	}

	dir := filepath.Dir(full)
	for dir != s.root && strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			// 目录非空或无权限：正常停止
			return
		}
		s.logger.Debug("reclaimed empty shard directory", zap.String("dir", dir))
		dir = filepath.Dir(dir)
	}
}

var _ biz.BlobStore = (*FSBlobStore)(nil)
