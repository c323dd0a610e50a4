package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// File store errors (6000-6999)
	ErrFileNotFound      = 6000
	ErrFileEmptyContent  = 6001
	ErrFileTooLarge      = 6002
	ErrFileStorageFailed = 6003
	ErrFileConsistency   = 6004
	ErrFileInvalidName   = 6005
	ErrFileNotifyFailed  = 6006
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// File store errors
	ErrFileNotFound:      {ErrFileNotFound, http.StatusNotFound, "File not found"},
	ErrFileEmptyContent:  {ErrFileEmptyContent, http.StatusBadRequest, "Empty or unreadable file content"},
	ErrFileTooLarge:      {ErrFileTooLarge, http.StatusBadRequest, "File size exceeds limit"},
	ErrFileStorageFailed: {ErrFileStorageFailed, http.StatusInternalServerError, "Storage operation failed"},
	ErrFileConsistency:   {ErrFileConsistency, http.StatusInternalServerError, "Reference count consistency violation"},
	ErrFileInvalidName:   {ErrFileInvalidName, http.StatusBadRequest, "Invalid file name"},
	ErrFileNotifyFailed:  {ErrFileNotifyFailed, http.StatusInternalServerError, "Index notification failed"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsSuccess checks if the code represents success
func IsSuccess(code int) bool {
	return code == Success
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	return GetHTTPStatus(code) >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
