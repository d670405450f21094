package errors

import (
	stderrors "errors"
	"fmt"
	"syscall"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeNetwork represents an unreachable or failing remote resource
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeStorageFull represents exhausted device storage
	ErrTypeStorageFull ErrorType = "storage_full"
	// ErrTypeNotFound represents a remote resource that does not exist
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeMalformedMetadata represents an index that fails shape validation
	ErrTypeMalformedMetadata ErrorType = "malformed_metadata"
	// ErrTypeFileSystem represents other local file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeValidation represents invalid caller input
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeNetwork,
		Message:   message,
		Retryable: true, // failed downloads are not retried; the caller may re-enqueue
		Cause:     cause,
	}
}

// NewStorageFullError creates a new storage full error
func NewStorageFullError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeStorageFull,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeNotFound,
		Message:   message,
		Retryable: false,
	}
}

// NewMalformedMetadataError creates a new malformed metadata error
func NewMalformedMetadataError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeMalformedMetadata,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFileSystem,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeValidation,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error.
// A bare ENOSPC anywhere in the chain classifies as storage full.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrTypeUnknown
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	if stderrors.Is(err, syscall.ENOSPC) {
		return ErrTypeStorageFull
	}
	return ErrTypeUnknown
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return GetErrorType(err) == ErrTypeNetwork
}

// IsStorageFull checks if an error reports exhausted device storage
func IsStorageFull(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	return GetErrorType(err) == ErrTypeStorageFull
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return GetErrorType(err) == ErrTypeNotFound
}

// IsMalformedMetadata checks if an error is a malformed metadata error
func IsMalformedMetadata(err error) bool {
	return GetErrorType(err) == ErrTypeMalformedMetadata
}
