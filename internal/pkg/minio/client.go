package minio

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Client wraps the MinIO client with health checking and error wrapping.
type Client struct {
	client *minio.Client
	config *Config
	logger *zap.Logger
}

// NewClient creates a new MinIO client and verifies connectivity.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidArgument
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, WrapError("connect", err, "", "")
	}

	c := &Client{
		client: mc,
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}

	logger.Info("minio client connected",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("use_ssl", cfg.UseSSL),
	)

	return c, nil
}

// Ping verifies that the object store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListBuckets(ctx); err != nil {
		return WrapError("ping", ErrConnectionFailed, "", "")
	}
	return nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (c *Client) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return WrapError("bucket_exists", err, bucketName, "")
	}
	if exists {
		return nil
	}

	if err := c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return WrapError("make_bucket", err, bucketName, "")
	}

	c.logger.Info("bucket created", zap.String("bucket", bucketName))
	return nil
}

// GetUnderlyingClient returns the wrapped minio-go client.
func (c *Client) GetUnderlyingClient() *minio.Client {
	return c.client
}
