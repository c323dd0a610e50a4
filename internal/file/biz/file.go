package biz

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// File is the domain model for one logical upload. Every upload call
// creates a file record, duplicates included; the record never owns the
// bytes, only the content hash.
type File struct {
	ID          string
	ContentHash string
	Filename    string
	MimeType    string
	SizeBytes   int64
	UploadedAt  time.Time
}

// FileRepo 文件记录仓储接口
type FileRepo interface {
	// Create 插入文件记录
	Create(ctx context.Context, file *File) error

	// GetByID 按 id 查询，不存在时返回 ErrNotFound
	GetByID(ctx context.Context, id string) (*File, error)

	// DeleteByID 删除记录并返回其内容哈希，不存在时返回 ErrNotFound
	DeleteByID(ctx context.Context, id string) (string, error)

	// List 按上传时间倒序分页
	List(ctx context.Context, offset, limit int) ([]*File, int64, error)

	// Count 文件记录总数
	Count(ctx context.Context) (int64, error)
}

// Notifier delivers lifecycle events to the indexing collaborator.
// Fire-and-forget: implementations never block the caller and never
// surface failures into the core operation.
type Notifier interface {
	FileCreated(ctx context.Context, fileID string)
	FileDeleted(ctx context.Context, fileID string)
}

// FileUseCase drives the upload / delete / metrics flows, owning the
// transaction boundary so the content mutation and the file registry step
// commit or roll back together.
type FileUseCase struct {
	files    FileRepo
	contents *ContentStore
	pipeline *HashingPipeline
	tx       Transactor
	notifier Notifier
	logger   *zap.Logger
}

// NewFileUseCase wires the use case from its collaborators.
func NewFileUseCase(
	files FileRepo,
	contents *ContentStore,
	pipeline *HashingPipeline,
	tx Transactor,
	notifier Notifier,
	logger *zap.Logger,
) *FileUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileUseCase{
		files:    files,
		contents: contents,
		pipeline: pipeline,
		tx:       tx,
		notifier: notifier,
		logger:   logger,
	}
}

// Upload stores the content (deduplicated by hash) and registers a file
// record. declaredSize, when >= 0, is checked against the ceiling before
// any hashing work; the pipeline re-enforces the limit on the actual bytes.
func (uc *FileUseCase) Upload(ctx context.Context, r io.Reader, declaredSize int64, filename, mimeType string) (*File, bool, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, false, ErrInvalidFilename
	}

	if declaredSize >= 0 {
		if err := uc.pipeline.CheckDeclaredSize(declaredSize); err != nil {
			return nil, false, err
		}
	}

	spool, err := uc.pipeline.Consume(r)
	if err != nil {
		return nil, false, err
	}
	defer spool.Close()

	var (
		file        *File
		isDuplicate bool
	)

	// 首次插入撞上并发的同哈希插入时整个事务重试，
	// 下一轮会在行锁下走引用计数加一分支。
	for attempt := 0; ; attempt++ {
		file = nil
		err = uc.tx.InTx(ctx, func(ctx context.Context) error {
			content, dup, err := uc.contents.createOrIncrement(ctx, spool, FileExtension(filename))
			if err != nil {
				return err
			}
			isDuplicate = dup

			f := &File{
				ID:          uuid.NewString(),
				ContentHash: content.Hash,
				Filename:    filename,
				MimeType:    mimeType,
				SizeBytes:   content.SizeBytes,
				UploadedAt:  time.Now(),
			}
			if err := uc.files.Create(ctx, f); err != nil {
				return err
			}
			file = f
			return nil
		})
		if err == nil {
			break
		}
		if uc.contents.repo.IsDuplicateKeyError(err) && attempt < createAttempts-1 {
			uc.logger.Debug("lost first-insert race, retrying as increment",
				zap.String("hash", spool.Hash()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, false, err
	}

	uc.logger.Info("file uploaded",
		zap.String("file_id", file.ID),
		zap.String("hash", file.ContentHash),
		zap.Bool("duplicate", isDuplicate),
		zap.Int64("size", file.SizeBytes),
	)

	uc.notifier.FileCreated(ctx, file.ID)
	return file, isDuplicate, nil
}

// Delete removes a file record and decrements its content's reference
// count, deleting the physical bytes when the last reference goes away.
// Returns whether the physical content was deleted.
func (uc *FileUseCase) Delete(ctx context.Context, fileID string) (bool, error) {
	if fileID == "" {
		return false, ErrNotFound
	}

	var (
		lastRef  bool
		hash     string
		blobPath string
	)

	err := uc.tx.InTx(ctx, func(ctx context.Context) error {
		h, err := uc.files.DeleteByID(ctx, fileID)
		if err != nil {
			return err
		}
		hash = h

		lastRef, blobPath, err = uc.contents.decrementAndMaybeDelete(ctx, hash)
		return err
	})
	if err != nil {
		if IsConsistencyViolation(err) {
			uc.logger.Error("reference count invariant violated",
				zap.String("file_id", fileID),
				zap.Error(err),
			)
		}
		return false, err
	}

	// 字节删除与目录回收在元数据事务提交之后、单独的短事务内进行。
	// 清理方持有按哈希的锁并复查记录：提交与清理之间若有同内容重新
	// 上传，字节保留给新记录——只要还有记录引用该哈希，物理内容绝不
	// 会被删除。
	physicalDeleted := false
	if lastRef {
		err := uc.tx.InTx(ctx, func(ctx context.Context) error {
			removed, err := uc.contents.removeBlobIfUnreferenced(ctx, hash, blobPath)
			physicalDeleted = removed
			return err
		})
		if err != nil {
			uc.logger.Error("blob cleanup failed after commit",
				zap.String("path", blobPath),
				zap.Error(err),
			)
			return false, err
		}
	}

	uc.logger.Info("file deleted",
		zap.String("file_id", fileID),
		zap.Bool("physical_delete", physicalDeleted),
	)

	uc.notifier.FileDeleted(ctx, fileID)
	return physicalDeleted, nil
}

// Get returns a single file record.
func (uc *FileUseCase) Get(ctx context.Context, fileID string) (*File, error) {
	return uc.files.GetByID(ctx, fileID)
}

// OpenContent returns the file record plus a reader over its bytes.
// The caller must close the reader.
func (uc *FileUseCase) OpenContent(ctx context.Context, fileID string) (*File, io.ReadCloser, error) {
	file, err := uc.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	content, err := uc.contents.repo.GetByHash(ctx, file.ContentHash)
	if err != nil {
		return nil, nil, err
	}
	if content == nil {
		return nil, nil, NewConsistencyError("content record missing for hash " + file.ContentHash)
	}

	rc, err := uc.contents.Open(ctx, content.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return file, rc, nil
}

// List returns a page of file records, newest first, plus the total count.
func (uc *FileUseCase) List(ctx context.Context, page, pageSize int) ([]*File, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return uc.files.List(ctx, (page-1)*pageSize, pageSize)
}

// Metrics computes the dedup statistics from one consistent snapshot, in
// O(number of content records) on the database side.
func (uc *FileUseCase) Metrics(ctx context.Context) (*Metrics, error) {
	var m *Metrics
	err := uc.tx.InSnapshot(ctx, func(ctx context.Context) error {
		totalFiles, err := uc.files.Count(ctx)
		if err != nil {
			return err
		}
		agg, err := uc.contents.repo.Aggregates(ctx)
		if err != nil {
			return err
		}
		m = deriveMetrics(totalFiles, agg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
