package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/filevault/internal/file/biz"
	"github.com/lk2023060901/filevault/internal/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentPO 内容记录数据库模型（去重存储的权威计数表）
type ContentPO struct {
	Hash        string    `gorm:"column:hash;type:char(64);primaryKey"`
	StoragePath string    `gorm:"column:storage_path;size:512;not null"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null;index:idx_contents_size_bytes"`
	RefCount    int64     `gorm:"column:ref_count;not null;default:1"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName 指定表名
func (ContentPO) TableName() string {
	return "contents"
}

// ContentRepo 实现 biz.ContentRepo。写路径方法通过事务上下文取连接，
// 由调用方（Transactor）保证事务边界。
type ContentRepo struct {
	db *database.DB
}

// NewContentRepo 创建内容仓储
func NewContentRepo(db *database.DB) biz.ContentRepo {
	return &ContentRepo{db: db}
}

// AcquireHashLock 获取事务级咨询锁（pg_advisory_xact_lock），事务提交或
// 回滚时自动释放。锁键取哈希前 16 个十六进制字符对应的 64 位整数。
func (r *ContentRepo) AcquireHashLock(ctx context.Context, hash string) error {
	err := r.db.GetDBFromContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(('x' || left(?, 16))::bit(64)::bigint)", hash).Error
	if err != nil {
		return fmt.Errorf("failed to acquire hash lock: %w", err)
	}
	return nil
}

// GetByHashForUpdate 按哈希加行锁查询（SELECT ... FOR UPDATE），
// 同哈希的并发修改在此串行化，不同哈希互不竞争。
func (r *ContentRepo) GetByHashForUpdate(ctx context.Context, hash string) (*biz.Content, error) {
	var po ContentPO
	err := r.db.GetDBFromContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("hash = ?", hash).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock content record: %w", err)
	}
	return toContent(&po), nil
}

// GetByHash 按哈希查询，不加锁
func (r *ContentRepo) GetByHash(ctx context.Context, hash string) (*biz.Content, error) {
	var po ContentPO
	err := r.db.GetDBFromContext(ctx).
		Where("hash = ?", hash).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get content record: %w", err)
	}
	return toContent(&po), nil
}

// Create 插入新内容记录
func (r *ContentRepo) Create(ctx context.Context, content *biz.Content) error {
	po := &ContentPO{
		Hash:        content.Hash,
		StoragePath: content.StoragePath,
		SizeBytes:   content.SizeBytes,
		RefCount:    content.RefCount,
		CreatedAt:   content.CreatedAt,
	}
	return r.db.GetDBFromContext(ctx).Create(po).Error
}

// IncrementRef 引用计数加一：SQL 表达式作用于存储中的权威值，
// 绝不回写内存中的旧计数。
func (r *ContentRepo) IncrementRef(ctx context.Context, hash string) error {
	err := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).
		Where("hash = ?", hash).
		Update("ref_count", gorm.Expr("ref_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment reference: %w", err)
	}
	return nil
}

// DecrementRef 带保护的引用计数减一（仅当 ref_count > 0），
// 返回受影响的行数供调用方检查不变量。
func (r *ContentRepo) DecrementRef(ctx context.Context, hash string) (int64, error) {
	result := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).
		Where("hash = ? AND ref_count > 0", hash).
		Update("ref_count", gorm.Expr("ref_count - 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to decrement reference: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete 删除内容记录
func (r *ContentRepo) Delete(ctx context.Context, hash string) error {
	result := r.db.GetDBFromContext(ctx).
		Where("hash = ?", hash).
		Delete(&ContentPO{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete content record: %w", result.Error)
	}
	return nil
}

// CountBySize 按大小统计候选记录数（走 size_bytes 索引的纯优化查询）
func (r *ContentRepo) CountBySize(ctx context.Context, sizeBytes int64) (int64, error) {
	var n int64
	err := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).
		Where("size_bytes = ?", sizeBytes).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count by size: %w", err)
	}
	return n, nil
}

// Aggregates 一条聚合查询取回统计快照，O(记录数) 由数据库完成
func (r *ContentRepo) Aggregates(ctx context.Context) (*biz.ContentAggregates, error) {
	var row struct {
		UniqueContents int64
		PhysicalSize   int64
		LogicalSize    int64
	}
	err := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).
		Select("COUNT(*) AS unique_contents, " +
			"COALESCE(SUM(size_bytes), 0) AS physical_size, " +
			"COALESCE(SUM(size_bytes * ref_count), 0) AS logical_size").
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate contents: %w", err)
	}
	return &biz.ContentAggregates{
		UniqueContents: row.UniqueContents,
		PhysicalSize:   row.PhysicalSize,
		LogicalSize:    row.LogicalSize,
	}, nil
}

// IsDuplicateKeyError 判断是否为主键冲突（并发首次插入同一哈希）
func (r *ContentRepo) IsDuplicateKeyError(err error) bool {
	return database.IsDuplicateKeyError(err)
}

func toContent(po *ContentPO) *biz.Content {
	return &biz.Content{
		Hash:        po.Hash,
		StoragePath: po.StoragePath,
		SizeBytes:   po.SizeBytes,
		RefCount:    po.RefCount,
		CreatedAt:   po.CreatedAt,
	}
}
