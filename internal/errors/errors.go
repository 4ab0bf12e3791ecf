// Package errors defines LakeError, the error value the metadata manager,
// the stores and the object storage layer hand back to the API front ends.
// The category picks the HTTP or gRPC status; the code is what clients match.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory names the layer an error came from.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryMeta       ErrorCategory = "META"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

const (
	// rejected before any store access
	CodeInvalidCommitOp = "INVALID_COMMIT_OP"
	CodeInvalidArgument = "INVALID_ARGUMENT"

	CodeNameConflict       = "NAME_CONFLICT"
	CodeCorruptionDetected = "CORRUPTION_DETECTED"
	CodeTableNotFound      = "TABLE_NOT_FOUND"
	// CodeSchemaUpdateFailed means the partition versions of a commit were
	// written but the table schema was not.
	CodeSchemaUpdateFailed = "SCHEMA_UPDATE_FAILED"

	CodeStoreFailed = "STORE_FAILED"

	CodeDeleteFailed   = "DELETE_FAILED"
	CodeListFailed     = "LIST_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	CodeUnexpected = "UNEXPECTED"
)

// LakeError carries a category and code next to the message. Details end up
// in logs and API error bodies; Cause is reachable through errors.Unwrap.
type LakeError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error renders as "[CATEGORY:CODE] message", followed by ": cause" when
// there is one.
func (e *LakeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *LakeError) Unwrap() error {
	return e.Cause
}

// Is matches any LakeError with the same category and code, so a bare
// New(cat, code, "") works as a sentinel for errors.Is.
func (e *LakeError) Is(target error) bool {
	var t *LakeError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

func New(category ErrorCategory, code, message string) *LakeError {
	return Wrap(category, code, message, nil)
}

func Wrap(category ErrorCategory, code, message string, cause error) *LakeError {
	return &LakeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy; the receiver is left alone.
func (e *LakeError) WithDetails(details map[string]interface{}) *LakeError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable is false for anything that is not a LakeError.
func IsRetryable(err error) bool {
	var le *LakeError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// GetCategory returns "" when err holds no LakeError.
func GetCategory(err error) ErrorCategory {
	var le *LakeError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// GetCode returns "" when err holds no LakeError.
func GetCode(err error) string {
	var le *LakeError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

func IsValidation(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// IsNameConflict covers clashes on table id, short name and path.
func IsNameConflict(err error) bool {
	return GetCategory(err) == ErrCategoryMeta && GetCode(err) == CodeNameConflict
}

// IsNotFound covers missing tables and missing objects.
func IsNotFound(err error) bool {
	code := GetCode(err)
	return code == CodeTableNotFound || code == CodeObjectNotFound
}

// Only transient store and object storage failures retry. A schema update
// that failed after its commit landed must not: replaying the commit would
// append the data a second time.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeStoreFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDeleteFailed:
		return true
	case category == ErrCategoryStorage && code == CodeListFailed:
		return true
	default:
		return false
	}
}

func NewValidationError(code, message string) *LakeError {
	return New(ErrCategoryValidation, code, message)
}

func NewMetaError(code, message string, cause error) *LakeError {
	return Wrap(ErrCategoryMeta, code, message, cause)
}

// NewStoreError always carries CodeStoreFailed.
func NewStoreError(message string, cause error) *LakeError {
	return Wrap(ErrCategoryStore, CodeStoreFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *LakeError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *LakeError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
