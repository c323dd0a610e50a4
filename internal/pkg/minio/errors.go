package minio

import (
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// Predefined errors
var (
	// ErrObjectNotFound indicates that the object does not exist
	ErrObjectNotFound = errors.New("minio: object not found")

	// ErrInvalidArgument indicates that an argument is invalid
	ErrInvalidArgument = errors.New("minio: invalid argument")

	// ErrConnectionFailed indicates that the connection to MinIO failed
	ErrConnectionFailed = errors.New("minio: connection failed")
)

// Error represents a MinIO error with operation context.
type Error struct {
	Op     string // Operation that failed
	Err    error  // Original error
	Bucket string // Bucket name (if applicable)
	Object string // Object name (if applicable)
}

// Error returns the error message
func (e *Error) Error() string {
	switch {
	case e.Bucket != "" && e.Object != "":
		return fmt.Sprintf("minio: %s failed for bucket=%s, object=%s: %v", e.Op, e.Bucket, e.Object, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("minio: %s failed for bucket=%s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("minio: %s failed: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound checks if the error is a "not found" error
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrObjectNotFound) {
		return true
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		return minioErr.Code == "NoSuchBucket" ||
			minioErr.Code == "NoSuchKey"
	}

	return false
}

// WrapError wraps an error with operation context
func WrapError(op string, err error, bucket, object string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Op:     op,
		Err:    err,
		Bucket: bucket,
		Object: object,
	}
}
