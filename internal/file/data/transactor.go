package data

import (
	"context"

	"github.com/lk2023060901/filevault/internal/file/biz"
	"github.com/lk2023060901/filevault/internal/pkg/database"
	"gorm.io/gorm"
)

// Transactor 实现 biz.Transactor：开启事务并把事务句柄塞进上下文，
// 仓储方法通过 GetDBFromContext 加入同一个事务。
type Transactor struct {
	tm *database.TransactionManager
}

// NewTransactor 创建事务执行器
func NewTransactor(db *database.DB) biz.Transactor {
	return &Transactor{tm: database.NewTransactionManager(db)}
}

// InTx 读写事务，序列化失败（SQLSTATE 40001/40P01）自动重试
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.tm.Execute(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return fn(database.ContextWithTransaction(ctx, tx))
	})
}

// InSnapshot 只读 REPEATABLE READ 事务，提供单一一致性快照
func (t *Transactor) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.tm.ReadOnlySnapshot(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return fn(database.ContextWithTransaction(ctx, tx))
	})
}
