package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/filevault/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client Redis 客户端封装
type Client struct {
	config *Config
	logger *logger.Logger
	client redis.UniversalClient
}

// New 创建 Redis 客户端
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		logger: log,
	}

	switch cfg.Mode {
	case ModeSingle:
		c.client = redis.NewClient(&redis.Options{
			Addr:     cfg.MasterAddr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,

			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,

			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolTimeout:  cfg.PoolTimeout,

			MaxRetries:      cfg.MaxRetries,
			MinRetryBackoff: cfg.MinRetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
		})
	case ModeSentinel:
		c.client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,

			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,

			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolTimeout:  cfg.PoolTimeout,
		})
	case ModeCluster:
		c.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.ClusterAddrs,
			Username: cfg.Username,
			Password: cfg.Password,

			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,

			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolTimeout:  cfg.PoolTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}

	// 健康检查
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	c.logger.Info("redis client initialized successfully",
		zap.String("mode", string(cfg.Mode)),
		zap.String("master_addr", cfg.MasterAddr),
	)

	return c, nil
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.client.Close()
}

// GetUnderlyingClient 返回底层 redis 客户端
func (c *Client) GetUnderlyingClient() redis.UniversalClient {
	return c.client
}
