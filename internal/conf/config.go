package conf

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string
}

// StorageConfig 内容存储配置
type StorageConfig struct {
	// Backend 存储后端：fs（本地文件系统）或 minio
	Backend string `mapstructure:"backend"`
	// Root 本地文件系统后端的根目录
	Root string `mapstructure:"root"`
	// MaxUploadSize 单文件大小上限（字节），0 表示不限制
	MaxUploadSize int64 `mapstructure:"max_upload_size"`
	// IndexQueueKey 索引通知队列的 Redis key
	IndexQueueKey string `mapstructure:"index_queue_key"`
}

// WorkerConfig 批量上传 worker pool 配置
type WorkerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type LogConfig struct {
	Level            string        `mapstructure:"level"`
	Format           string        `mapstructure:"format"`
	Output           string        `mapstructure:"output"`
	File             FileLogConfig `mapstructure:"file"`
	EnableCaller     bool          `mapstructure:"enablecaller"`
	EnableStacktrace bool          `mapstructure:"enablestacktrace"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`
	MaxAge     int    `mapstructure:"maxage"`
	MaxBackups int    `mapstructure:"maxbackups"`
	Compress   bool   `mapstructure:"compress"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "fs"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data/blobs"
	}
	if c.Storage.IndexQueueKey == "" {
		c.Storage.IndexQueueKey = "filevault:index:events"
	}
	if c.Worker.Workers == 0 {
		c.Worker.Workers = 16
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 256
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for fs backend")
		}
	case "minio":
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("minio.endpoint is required for minio backend")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("minio.bucket is required for minio backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if c.Storage.MaxUploadSize < 0 {
		return fmt.Errorf("storage.max_upload_size must not be negative")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
