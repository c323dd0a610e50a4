package biz

import (
	apperrors "github.com/lk2023060901/filevault/internal/pkg/errors"
)

// Typed errors for the file store. Wrapped causes stay inspectable via
// errors.Is / apperrors.ExtractCode.
var (
	// ErrEmptyContent 内容为空或不可读
	ErrEmptyContent = apperrors.New(apperrors.ErrFileEmptyContent)

	// ErrSizeLimitExceeded 超过配置的大小上限
	ErrSizeLimitExceeded = apperrors.New(apperrors.ErrFileTooLarge)

	// ErrNotFound 文件记录不存在
	ErrNotFound = apperrors.New(apperrors.ErrFileNotFound)

	// ErrInvalidFilename 文件名为空或非法
	ErrInvalidFilename = apperrors.New(apperrors.ErrFileInvalidName)
)

// NewStorageError wraps a blob backend failure.
func NewStorageError(err error, details ...string) error {
	return apperrors.Wrap(err, apperrors.ErrFileStorageFailed, details...)
}

// NewConsistencyError reports a broken reference-count invariant. Callers
// must abort the operation; the count is never clamped or auto-corrected.
func NewConsistencyError(details ...string) error {
	return apperrors.New(apperrors.ErrFileConsistency, details...)
}

// IsNotFound reports whether err maps to the file-not-found code.
func IsNotFound(err error) bool {
	return apperrors.Is(err, apperrors.ErrFileNotFound)
}

// IsConsistencyViolation reports whether err maps to the consistency code.
func IsConsistencyViolation(err error) bool {
	return apperrors.Is(err, apperrors.ErrFileConsistency)
}
