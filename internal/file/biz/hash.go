package biz

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

const (
	// ChunkSize is the read block size for hashing. Memory use during
	// hashing is O(ChunkSize), independent of content size.
	ChunkSize = 64 * 1024

	// DefaultSpoolMemoryLimit is the largest content kept fully in memory
	// while hashing. Anything bigger spills to a temp file.
	DefaultSpoolMemoryLimit = 8 << 20
)

// HashingPipeline streams bytes through SHA-256 while spooling them so the
// caller can replay the content for the physical write. The digest depends
// only on the bytes, never on filename or type.
type HashingPipeline struct {
	memoryLimit int64
	sizeLimit   int64 // 0 means unlimited
}

// NewHashingPipeline creates a pipeline. sizeLimit of 0 disables the
// upload ceiling.
func NewHashingPipeline(sizeLimit int64) *HashingPipeline {
	return &HashingPipeline{
		memoryLimit: DefaultSpoolMemoryLimit,
		sizeLimit:   sizeLimit,
	}
}

// SizeLimit returns the configured upload ceiling (0 = unlimited).
func (p *HashingPipeline) SizeLimit() int64 {
	return p.sizeLimit
}

// CheckDeclaredSize rejects a known content length before any hashing work.
// The check is advisory; Consume enforces the same limit on the actual bytes.
func (p *HashingPipeline) CheckDeclaredSize(size int64) error {
	if p.sizeLimit > 0 && size > p.sizeLimit {
		return ErrSizeLimitExceeded
	}
	return nil
}

// Consume reads r to EOF in ChunkSize blocks, hashing and spooling
// simultaneously. Empty input is an error. The caller owns the returned
// Spool and must Close it.
func (p *HashingPipeline) Consume(r io.Reader) (*Spool, error) {
	if r == nil {
		return nil, ErrEmptyContent
	}

	hasher := sha256.New()
	spool := &Spool{memoryLimit: p.memoryLimit}

	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if p.sizeLimit > 0 && spool.size+int64(n) > p.sizeLimit {
				spool.Close()
				return nil, ErrSizeLimitExceeded
			}
			hasher.Write(buf[:n])
			if werr := spool.write(buf[:n]); werr != nil {
				spool.Close()
				return nil, NewStorageError(werr, "spool write failed")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			spool.Close()
			return nil, ErrEmptyContent
		}
	}

	if spool.size == 0 {
		spool.Close()
		return nil, ErrEmptyContent
	}

	spool.hash = hex.EncodeToString(hasher.Sum(nil))
	return spool, nil
}

// Spool holds the hashed bytes for replay. Small contents stay in memory,
// large ones live in an unlinked-on-Close temp file.
type Spool struct {
	hash        string
	size        int64
	memoryLimit int64

	buf  []byte
	file *os.File
}

// Hash returns the lowercase hex SHA-256 digest of the spooled bytes.
func (s *Spool) Hash() string { return s.hash }

// Size returns the spooled byte count.
func (s *Spool) Size() int64 { return s.size }

func (s *Spool) write(p []byte) error {
	if s.file == nil && s.size+int64(len(p)) > s.memoryLimit {
		f, err := os.CreateTemp("", "filevault-spool-*")
		if err != nil {
			return err
		}
		if len(s.buf) > 0 {
			if _, err := f.Write(s.buf); err != nil {
				f.Close()
				os.Remove(f.Name())
				return err
			}
		}
		s.file = f
		s.buf = nil
	}

	if s.file != nil {
		if _, err := s.file.Write(p); err != nil {
			return err
		}
	} else {
		s.buf = append(s.buf, p...)
	}
	s.size += int64(len(p))
	return nil
}

// Reader returns a fresh reader over the full content. It may be called
// more than once; each call restarts from the beginning.
func (s *Spool) Reader() (io.Reader, error) {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return s.file, nil
	}
	return bytes.NewReader(s.buf), nil
}

// Close releases the spool's resources, removing the temp file if any.
func (s *Spool) Close() error {
	if s.file != nil {
		name := s.file.Name()
		s.file.Close()
		s.file = nil
		return os.Remove(name)
	}
	s.buf = nil
	return nil
}
