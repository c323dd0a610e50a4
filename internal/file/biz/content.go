package biz

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// Content is the domain model for a deduplicated content record. It exists
// iff RefCount >= 1, and RefCount equals the number of live file records
// pointing at it.
type Content struct {
	Hash        string
	StoragePath string
	SizeBytes   int64
	RefCount    int64
	CreatedAt   time.Time
}

// ContentRepo 内容记录仓储接口。所有写路径方法都要求调用方已开启事务
// （通过 Transactor 注入事务上下文）。
type ContentRepo interface {
	// GetByHashForUpdate 按哈希查询并加行锁（SELECT ... FOR UPDATE）。
	// 记录不存在时返回 (nil, nil)。
	GetByHashForUpdate(ctx context.Context, hash string) (*Content, error)

	// GetByHash 按哈希查询，不加锁。记录不存在时返回 (nil, nil)。
	GetByHash(ctx context.Context, hash string) (*Content, error)

	// AcquireHashLock 在当前事务内获取以哈希为键的锁（事务结束自动
	// 释放）。行锁只能锁已存在的行，首次插入与删除后的字节清理之间
	// 没有可锁的行，需要这把锁串行化。
	AcquireHashLock(ctx context.Context, hash string) error

	// Create 插入新记录（ref_count = 1）。哈希冲突时返回可识别的
	// duplicate-key 错误。
	Create(ctx context.Context, content *Content) error

	// IncrementRef 按 SQL 表达式原子加一，从不使用内存中的旧值。
	IncrementRef(ctx context.Context, hash string) error

	// DecrementRef 带保护的原子减一（仅当 ref_count > 0）。
	// 返回受影响的行数。
	DecrementRef(ctx context.Context, hash string) (int64, error)

	// Delete 删除记录。
	Delete(ctx context.Context, hash string) error

	// CountBySize 按字节大小统计候选记录数（纯优化，见 ContentStore）。
	CountBySize(ctx context.Context, sizeBytes int64) (int64, error)

	// Aggregates 统计快照：记录数、物理大小、逻辑大小。
	Aggregates(ctx context.Context) (*ContentAggregates, error)

	// IsDuplicateKeyError 判断 Create 返回的错误是否为主键冲突。
	IsDuplicateKeyError(err error) bool
}

// ContentAggregates 内容表的聚合统计结果
type ContentAggregates struct {
	UniqueContents int64
	PhysicalSize   int64 // Σ size_bytes
	LogicalSize    int64 // Σ size_bytes × ref_count
}

// BlobStore abstracts the physical byte backend (local filesystem or
// object storage).
type BlobStore interface {
	Write(ctx context.Context, path string, r io.Reader, size int64) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error

	// ReclaimDirs removes now-empty shard directories above path, stopping
	// silently at the first non-empty directory or the storage root.
	// Best effort; never returns an error. No-op on object storage.
	ReclaimDirs(path string)
}

// Transactor runs a function inside a database transaction whose handle
// travels in the context.
type Transactor interface {
	// InTx runs fn in a read-write transaction, retrying on transient
	// serialization failures.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// InSnapshot runs fn in a read-only repeatable-read transaction.
	InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}

// createAttempts bounds the duplicate-key retry loop in createOrIncrement.
const createAttempts = 3

// ContentStore owns the content record lifecycle: create-or-increment on
// upload, decrement-or-delete on removal. Reference counts are only ever
// mutated against the authoritative stored value, inside one transaction
// per call, so concurrent calls on the same hash serialize on the row lock
// and counts are never lost.
type ContentStore struct {
	repo   ContentRepo
	blob   BlobStore
	logger *zap.Logger
}

// NewContentStore creates a ContentStore with injected collaborators.
func NewContentStore(repo ContentRepo, blob BlobStore, logger *zap.Logger) *ContentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentStore{
		repo:   repo,
		blob:   blob,
		logger: logger,
	}
}

// createOrIncrement runs inside the caller's transaction context. When the
// hash is already stored it bumps the reference count and writes no bytes;
// otherwise it writes the blob and inserts a fresh record with ref_count 1.
// Returns the committed-state record and whether the content was a duplicate.
func (s *ContentStore) createOrIncrement(ctx context.Context, spool *Spool, ext string) (*Content, bool, error) {
	hash := spool.Hash()

	// 同一哈希上：要么并发的字节清理先完成、这里重新落盘；要么这里先
	// 提交、清理方复查时看到新记录后放弃删除。
	if err := s.repo.AcquireHashLock(ctx, hash); err != nil {
		return nil, false, err
	}

	// 大小预过滤：没有同大小的记录就不可能有同哈希的记录，可以跳过
	// 加锁查找。纯优化，从不跳过哈希计算（哈希在进入这里之前已算好），
	// 漏判的并发插入由下面的 duplicate-key 重试兜底。
	var existing *Content
	skipLookup := false
	if n, err := s.repo.CountBySize(ctx, spool.Size()); err == nil && n == 0 {
		skipLookup = true
	}

	if !skipLookup {
		var err error
		existing, err = s.repo.GetByHashForUpdate(ctx, hash)
		if err != nil {
			return nil, false, err
		}
	}

	if existing != nil {
		if err := s.repo.IncrementRef(ctx, hash); err != nil {
			return nil, false, err
		}
		existing.RefCount++
		return existing, true, nil
	}

	storagePath, err := AllocatePath(hash, ext)
	if err != nil {
		return nil, false, err
	}

	content := &Content{
		Hash:        hash,
		StoragePath: storagePath,
		SizeBytes:   spool.Size(),
		RefCount:    1,
		CreatedAt:   time.Now(),
	}

	if err := s.repo.Create(ctx, content); err != nil {
		// 并发首次上传同一哈希：另一个事务先插入成功。
		// 返回原错误让外层重试，下一轮会走加锁 + 引用计数加一的分支。
		return nil, false, err
	}

	// Bytes are written before the row commits: a crash here rolls the
	// record back, leaving only an orphan blob at a deterministic path
	// that the next upload of the same content overwrites.
	reader, err := spool.Reader()
	if err != nil {
		return nil, false, NewStorageError(err, "replay spooled content")
	}
	if err := s.blob.Write(ctx, storagePath, reader, spool.Size()); err != nil {
		return nil, false, NewStorageError(err, "write content blob")
	}

	s.logger.Info("new content stored",
		zap.String("hash", hash),
		zap.String("path", storagePath),
		zap.Int64("size", spool.Size()),
	)

	return content, false, nil
}

// decrementAndMaybeDelete runs inside the caller's transaction context.
// It re-reads the authoritative count under a row lock, decrements it, and
// deletes the record when the count reaches zero. The physical bytes must
// only be removed after the transaction commits; the returned blobPath is
// non-empty exactly when the caller owes that post-commit cleanup.
func (s *ContentStore) decrementAndMaybeDelete(ctx context.Context, hash string) (physicalDelete bool, blobPath string, err error) {
	content, err := s.repo.GetByHashForUpdate(ctx, hash)
	if err != nil {
		return false, "", err
	}
	if content == nil {
		// 文件记录存在但内容记录不存在：引用计数体系已被破坏。
		return false, "", NewConsistencyError("content record missing for hash " + hash)
	}
	if content.RefCount < 1 {
		return false, "", NewConsistencyError("reference count below 1 for hash " + hash)
	}

	if content.RefCount == 1 {
		if err := s.repo.Delete(ctx, hash); err != nil {
			return false, "", err
		}
		return true, content.StoragePath, nil
	}

	affected, err := s.repo.DecrementRef(ctx, hash)
	if err != nil {
		return false, "", err
	}
	if affected == 0 {
		// 带保护的减一没有命中任何行：计数在锁内被破坏，绝不静默修正。
		return false, "", NewConsistencyError("guarded decrement matched no row for hash " + hash)
	}

	return false, "", nil
}

// removeBlobIfUnreferenced deletes the physical bytes and reclaims empty
// shard directories, unless the hash was re-uploaded after the deleting
// transaction committed. Must run inside its own transaction: the per-hash
// lock serializes against a racing first insert, so either that insert
// committed first and the re-check sees its record (bytes kept), or it
// starts after the delete and writes the bytes fresh. Returns whether the
// blob was actually removed.
func (s *ContentStore) removeBlobIfUnreferenced(ctx context.Context, hash, blobPath string) (bool, error) {
	if err := s.repo.AcquireHashLock(ctx, hash); err != nil {
		return false, err
	}

	existing, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		return false, err
	}
	if existing != nil {
		s.logger.Info("content re-uploaded before cleanup, keeping bytes",
			zap.String("hash", hash),
			zap.String("path", blobPath),
		)
		return false, nil
	}

	if err := s.blob.Delete(ctx, blobPath); err != nil {
		return false, NewStorageError(err, "delete content blob")
	}
	s.blob.ReclaimDirs(blobPath)
	return true, nil
}

// Open returns a reader over the stored bytes for a hash.
func (s *ContentStore) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	rc, err := s.blob.Open(ctx, storagePath)
	if err != nil {
		return nil, NewStorageError(err, "open content blob")
	}
	return rc, nil
}
