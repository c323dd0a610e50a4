package redis

import (
	"errors"
	"time"
)

// DeployMode Redis 部署模式
type DeployMode string

const (
	ModeSingle   DeployMode = "single"   // 单机模式
	ModeSentinel DeployMode = "sentinel" // 哨兵模式
	ModeCluster  DeployMode = "cluster"  // 集群模式
)

// Config Redis 配置
type Config struct {
	// 部署模式
	Mode DeployMode `mapstructure:"mode" yaml:"mode"`

	// 单机模式配置
	MasterAddr string `mapstructure:"master_addr" yaml:"master_addr"` // 主节点地址 (host:port)

	// 哨兵模式配置
	SentinelAddrs []string `mapstructure:"sentinel_addrs" yaml:"sentinel_addrs"` // 哨兵地址列表
	MasterName    string   `mapstructure:"master_name" yaml:"master_name"`       // 主节点名称

	// 集群模式配置
	ClusterAddrs []string `mapstructure:"cluster_addrs" yaml:"cluster_addrs"` // 集群节点地址列表

	// 认证配置
	Password string `mapstructure:"password" yaml:"password"`
	Username string `mapstructure:"username" yaml:"username"` // Redis 6.0+
	DB       int    `mapstructure:"db" yaml:"db"`

	// 连接池配置
	PoolSize     int `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`

	// 超时配置
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout" yaml:"pool_timeout"`

	// 重试配置
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff" yaml:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeSingle,
		MasterAddr:   "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		MaxRetries:   3,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if c.MasterAddr == "" {
			return errors.New("redis master_addr is required in single mode")
		}
	case ModeSentinel:
		if len(c.SentinelAddrs) == 0 {
			return errors.New("redis sentinel_addrs is required in sentinel mode")
		}
		if c.MasterName == "" {
			return errors.New("redis master_name is required in sentinel mode")
		}
	case ModeCluster:
		if len(c.ClusterAddrs) == 0 {
			return errors.New("redis cluster_addrs is required in cluster mode")
		}
	case "":
		return errors.New("redis mode is required")
	default:
		return errors.New("unsupported redis mode: " + string(c.Mode))
	}

	if c.DB < 0 || c.DB > 15 {
		return errors.New("redis db must be between 0 and 15")
	}
	if c.PoolSize < 0 {
		return errors.New("redis pool_size must be >= 0")
	}

	return nil
}
