package minio

import (
	"errors"
	"time"
)

// Config holds connection settings for an S3-compatible object store.
type Config struct {
	// Endpoint is the object storage endpoint, e.g. "localhost:9000".
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// AccessKeyID is the access key for authentication.
	AccessKeyID string `mapstructure:"access_key_id" yaml:"access_key_id"`

	// SecretAccessKey is the secret key for authentication.
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// Region of the object storage (optional).
	Region string `mapstructure:"region" yaml:"region"`

	// UseSSL determines whether to use HTTPS.
	UseSSL bool `mapstructure:"use_ssl" yaml:"use_ssl"`

	// ConnectTimeout is the timeout for the startup health check.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}
	if c.AccessKeyID == "" {
		return errors.New("minio: access key ID is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("minio: secret access key is required")
	}
	return nil
}

// SetDefaults sets default values for unspecified fields.
func (c *Config) SetDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		UseSSL:         false,
		ConnectTimeout: 10 * time.Second,
	}
}
