package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lk2023060901/filevault/internal/file/biz"
	apperrors "github.com/lk2023060901/filevault/internal/pkg/errors"
	"go.uber.org/zap"
)

const notifyTimeout = 2 * time.Second

// 索引事件类型
const (
	EventFileCreated = "file.created"
	EventFileDeleted = "file.deleted"
)

// IndexEvent 推送给索引方的生命周期事件
type IndexEvent struct {
	Type       string    `json:"type"`
	FileID     string    `json:"file_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// eventQueue 事件队列的最小接口（Redis List）
type eventQueue interface {
	LPush(ctx context.Context, key string, values ...interface{}) (int64, error)
}

// RedisNotifier 把事件 LPush 到 Redis 队列，索引方自行消费。
// fire-and-forget：失败只记日志，带短超时，绝不阻塞或影响核心操作。
type RedisNotifier struct {
	queue    eventQueue
	queueKey string
	logger   *zap.Logger
}

// NewRedisNotifier 创建 Redis 队列通知器
func NewRedisNotifier(queue eventQueue, queueKey string, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{
		queue:    queue,
		queueKey: queueKey,
		logger:   logger,
	}
}

// FileCreated 入队 file.created 事件
func (n *RedisNotifier) FileCreated(ctx context.Context, fileID string) {
	n.enqueue(EventFileCreated, fileID)
}

// FileDeleted 入队 file.deleted 事件
func (n *RedisNotifier) FileDeleted(ctx context.Context, fileID string) {
	n.enqueue(EventFileDeleted, fileID)
}

func (n *RedisNotifier) enqueue(eventType, fileID string) {
	// 独立的超时上下文：调用方的事务 / 请求生命周期与通知解耦
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	payload, err := json.Marshal(&IndexEvent{
		Type:       eventType,
		FileID:     fileID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		n.logger.Warn("failed to marshal index event",
			zap.String("type", eventType),
			zap.String("file_id", fileID),
			zap.Error(err),
		)
		return
	}

	if _, err := n.queue.LPush(ctx, n.queueKey, string(payload)); err != nil {
		n.logger.Warn("failed to enqueue index event",
			zap.String("type", eventType),
			zap.String("file_id", fileID),
			zap.Error(apperrors.Wrap(err, apperrors.ErrFileNotifyFailed)),
		)
	}
}

// NopNotifier 空实现，未配置索引方时使用
type NopNotifier struct{}

func (NopNotifier) FileCreated(context.Context, string) {}
func (NopNotifier) FileDeleted(context.Context, string) {}

var (
	_ biz.Notifier = (*RedisNotifier)(nil)
	_ biz.Notifier = NopNotifier{}
)
