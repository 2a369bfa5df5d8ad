package vfs

import "fmt"

// ErrorCode classifies store operation failures. All of them are recoverable
// by the caller choosing a different operation or path.
type ErrorCode string

const (
	// ErrNotFound means the target path holds no record.
	ErrNotFound ErrorCode = "not_found"
	// ErrConflict means the destination path is already occupied.
	ErrConflict ErrorCode = "conflict"
	// ErrContentMismatch means a patch's search text did not match the
	// current content unambiguously.
	ErrContentMismatch ErrorCode = "content_mismatch"
	// ErrInvalidPath means the supplied path is empty or unusable.
	ErrInvalidPath ErrorCode = "invalid_path"
)

// StoreError is a structured failure from a file-store operation.
type StoreError struct {
	Op     string
	Path   string
	Code   ErrorCode
	Detail string
}

func (e *StoreError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("vfs: %s %s: %s: %s", e.Op, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("vfs: %s %s: %s", e.Op, e.Path, e.Code)
}

// IsCode reports whether err is a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := err.(*StoreError)
	return ok && se.Code == code
}
