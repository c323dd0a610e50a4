package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/filevault/internal/file/biz"
	"github.com/lk2023060901/filevault/internal/pkg/database"
)

// FilePO 文件记录数据库模型。外键 RESTRICT 兜底，但引用计数的权威
// 始终是 contents 表上的事务性变更，不依赖关系层。
type FilePO struct {
	ID          string    `gorm:"column:id;type:uuid;primaryKey"`
	ContentHash string    `gorm:"column:content_hash;type:char(64);not null;index:idx_files_content_hash"`
	Filename    string    `gorm:"column:filename;size:255;not null"`
	MimeType    string    `gorm:"column:mime_type;size:127"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null"`
	UploadedAt  time.Time `gorm:"column:uploaded_at;not null;index:idx_files_uploaded_at"`

	Content ContentPO `gorm:"foreignKey:ContentHash;references:Hash;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName 指定表名
func (FilePO) TableName() string {
	return "files"
}

// FileRepo 实现 biz.FileRepo
type FileRepo struct {
	db *database.DB
}

// NewFileRepo 创建文件仓储
func NewFileRepo(db *database.DB) biz.FileRepo {
	return &FileRepo{db: db}
}

// Create 插入文件记录
func (r *FileRepo) Create(ctx context.Context, file *biz.File) error {
	po := &FilePO{
		ID:          file.ID,
		ContentHash: file.ContentHash,
		Filename:    file.Filename,
		MimeType:    file.MimeType,
		SizeBytes:   file.SizeBytes,
		UploadedAt:  file.UploadedAt,
	}
	if err := r.db.GetDBFromContext(ctx).Create(po).Error; err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetByID 按 id 查询
func (r *FileRepo) GetByID(ctx context.Context, id string) (*biz.File, error) {
	var po FilePO
	err := r.db.GetDBFromContext(ctx).
		Where("id = ?", id).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return toFile(&po), nil
}

// DeleteByID 删除记录并返回其内容哈希（供引用计数减一使用），
// 记录不存在时返回 biz.ErrNotFound 且不做任何变更。
func (r *FileRepo) DeleteByID(ctx context.Context, id string) (string, error) {
	db := r.db.GetDBFromContext(ctx)

	var po FilePO
	if err := db.Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return "", biz.ErrNotFound
		}
		return "", fmt.Errorf("failed to get file record: %w", err)
	}

	result := db.Where("id = ?", id).Delete(&FilePO{})
	if result.Error != nil {
		return "", fmt.Errorf("failed to delete file record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", biz.ErrNotFound
	}

	return po.ContentHash, nil
}

// List 按上传时间倒序分页，并返回总数
func (r *FileRepo) List(ctx context.Context, offset, limit int) ([]*biz.File, int64, error) {
	db := r.db.GetDBFromContext(ctx)

	var total int64
	if err := db.Model(&FilePO{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count file records: %w", err)
	}

	var pos []FilePO
	err := db.Scopes(database.OrderBy("uploaded_at", true)).
		Offset(offset).
		Limit(limit).
		Find(&pos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list file records: %w", err)
	}

	files := make([]*biz.File, len(pos))
	for i := range pos {
		files[i] = toFile(&pos[i])
	}
	return files, total, nil
}

// Count 文件记录总数
func (r *FileRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetDBFromContext(ctx).Model(&FilePO{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count file records: %w", err)
	}
	return n, nil
}

func toFile(po *FilePO) *biz.File {
	return &biz.File{
		ID:          po.ID,
		ContentHash: po.ContentHash,
		Filename:    po.Filename,
		MimeType:    po.MimeType,
		SizeBytes:   po.SizeBytes,
		UploadedAt:  po.UploadedAt,
	}
}
