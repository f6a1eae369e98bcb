// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/threaddocs/core"
)

// ErrorCode is the closed set of storage failure classes.
type ErrorCode string

const (
	// Connection errors
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeNetworkError     ErrorCode = "NETWORK_ERROR"

	// Data errors
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	CodeInvalidData   ErrorCode = "INVALID_DATA"
	CodeCorruptedData ErrorCode = "CORRUPTED_DATA"

	// Permission errors
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"

	// Conflict errors
	CodeVersionConflict        ErrorCode = "VERSION_CONFLICT"
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// System errors
	CodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	CodeUnknownError       ErrorCode = "UNKNOWN_ERROR"
)

// StorageError is a classified storage failure.
// Retryable is decided once, where the error is classified; callers
// must not re-derive it from Code.
type StorageError struct {
	Code      ErrorCode
	Message   string
	Err       error
	Timestamp time.Time
	Retryable bool
	Context   map[string]any
}

// NewError creates a classified error.
func NewError(code ErrorCode, retryable bool, message string, err error) *StorageError {
	return &StorageError{
		Code:      code,
		Message:   message,
		Err:       err,
		Timestamp: time.Now().UTC(),
		Retryable: retryable,
	}
}

// Error implements error.
func (e *StorageError) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the original error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches any StorageError carrying the same code, so the package
// sentinels work with errors.Is.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With attaches a context key/value pair and returns e.
func (e *StorageError) With(key string, value any) *StorageError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Sentinels for errors.Is checks. Never returned directly.
var (
	ErrNotFound           = &StorageError{Code: CodeNotFound}
	ErrAlreadyExists      = &StorageError{Code: CodeAlreadyExists}
	ErrInvalidData        = &StorageError{Code: CodeInvalidData}
	ErrCorruptedData      = &StorageError{Code: CodeCorruptedData}
	ErrQuotaExceeded      = &StorageError{Code: CodeQuotaExceeded}
	ErrVersionConflict    = &StorageError{Code: CodeVersionConflict}
	ErrStorageUnavailable = &StorageError{Code: CodeStorageUnavailable}
	ErrUnknown            = &StorageError{Code: CodeUnknownError}
)

// NotFound returns a non-retryable NOT_FOUND error for id.
func NotFound(id string) *StorageError {
	return NewError(CodeNotFound, false, fmt.Sprintf("document %q not found", id), nil).With("id", id)
}

// Unavailable returns a non-retryable STORAGE_UNAVAILABLE error.
func Unavailable(backend, reason string) *StorageError {
	return NewError(CodeStorageUnavailable, false, reason, nil).With("backend", backend)
}

// QuotaExceeded returns a non-retryable QUOTA_EXCEEDED error.
func QuotaExceeded(required, quota int64) *StorageError {
	return NewError(CodeQuotaExceeded, false,
		fmt.Sprintf("write needs %d bytes, quota is %d", required, quota), nil).
		With("required", required).
		With("quota", quota)
}

// VersionConflict returns a non-retryable VERSION_CONFLICT error.
func VersionConflict(id string, expected, actual int) *StorageError {
	return NewError(CodeVersionConflict, false,
		fmt.Sprintf("document %q is at version %d, caller expected %d", id, actual, expected), nil).
		With("id", id).
		With("expectedVersion", expected).
		With("actualVersion", actual)
}

// InvalidData wraps a validation failure.
func InvalidData(err error) *StorageError {
	return NewError(CodeInvalidData, false, "validation failed", err)
}

// Classify maps an arbitrary error onto the closed code set.
// Already classified errors pass through unchanged. op names the failed
// operation and is recorded in the error context.
func Classify(err error, op string) *StorageError {
	if err == nil {
		return nil
	}

	var se *StorageError
	if errors.As(err, &se) {
		return se
	}

	var classified *StorageError
	switch {
	case errors.Is(err, syscall.ENOSPC), isQuotaMessage(err):
		classified = NewError(CodeQuotaExceeded, false, "storage quota exceeded", err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EROFS):
		classified = NewError(CodePermissionDenied, false, "permission denied", err)
	case errors.Is(err, core.ErrInvalidDocument), errors.Is(err, core.ErrInvalidLink):
		classified = NewError(CodeInvalidData, false, "validation failed", err)
	case isDecodeError(err):
		classified = NewError(CodeCorruptedData, false, "stored record could not be decoded", err)
	case isConstraintMessage(err):
		classified = NewError(CodeAlreadyExists, false, "record already exists", err)
	case errors.Is(err, context.DeadlineExceeded):
		classified = NewError(CodeTimeout, false, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		classified = NewError(CodeTimeout, false, "operation canceled", err)
	default:
		classified = NewError(CodeUnknownError, true, "unexpected storage failure", err)
	}
	if op != "" {
		classified.With("operation", op)
	}
	return classified
}

// IsRetryable reports whether err is a StorageError flagged retryable.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// CodeOf returns the code of a StorageError, or UNKNOWN_ERROR for anything else.
func CodeOf(err error) ErrorCode {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknownError
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func isQuotaMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "no space left")
}

func isConstraintMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "duplicate")
}
