package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified int64
}

// PutObject uploads an object from a reader.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (ObjectInfo, error) {
	if bucketName == "" || objectName == "" {
		return ObjectInfo{}, ErrInvalidArgument
	}

	info, err := c.client.PutObject(ctx, bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return ObjectInfo{}, WrapError("put_object", err, bucketName, objectName)
	}

	c.logger.Debug("object uploaded",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
	)

	return ObjectInfo{
		Key:  info.Key,
		Size: info.Size,
		ETag: info.ETag,
	}, nil
}

// GetObject retrieves an object as a streaming reader. The caller must
// close the returned object.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (*minio.Object, error) {
	if bucketName == "" || objectName == "" {
		return nil, ErrInvalidArgument
	}

	obj, err := c.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, WrapError("get_object", err, bucketName, objectName)
	}
	return obj, nil
}

// StatObject returns metadata about an object without fetching its body.
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if bucketName == "" || objectName == "" {
		return ObjectInfo{}, ErrInvalidArgument
	}

	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if IsNotFound(err) {
			return ObjectInfo{}, WrapError("stat_object", ErrObjectNotFound, bucketName, objectName)
		}
		return ObjectInfo{}, WrapError("stat_object", err, bucketName, objectName)
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified.Unix(),
	}, nil
}

// RemoveObject deletes an object.
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if bucketName == "" || objectName == "" {
		return ErrInvalidArgument
	}

	if err := c.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return WrapError("remove_object", err, bucketName, objectName)
	}

	c.logger.Debug("object removed",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
	)
	return nil
}
