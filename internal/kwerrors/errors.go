// Package kwerrors defines the structured error types used across Keywave.
//
// Errors carry a category and a stable code so callers can branch on the
// kind of failure (validation vs. policy vs. disk) without string matching,
// and so the control API can map them to sensible HTTP statuses.
package kwerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents different categories of errors.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindIO         Kind = "io"
	KindDecode     Kind = "decode"
	KindPolicy     Kind = "policy"
	KindInternal   Kind = "internal"
)

// Error is a structured error with category, code, and optional cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	PackID  string
	Slot    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.PackID != "" {
		parts = append(parts, "pack:"+e.PackID)
	}

	if e.Slot != "" {
		parts = append(parts, "slot:"+e.Slot)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is compares errors by kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithPack attaches the pack id the error relates to.
func (e *Error) WithPack(id string) *Error {
	e.PackID = id

	return e
}

// WithSlot attaches the slot key the error relates to.
func (e *Error) WithSlot(slot string) *Error {
	e.Slot = slot

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error wrapping the underlying cause.
func NewIOError(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewDecodeError creates an audio decode error. Decode errors are logged
// and degrade the affected asset to silence; they are never returned from
// the playback path.
func NewDecodeError(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindDecode,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewPolicyError creates a policy error.
func NewPolicyError(code, message string) *Error {
	return &Error{
		Kind:    KindPolicy,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Kind predicates

// IsValidation checks whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsNotFound checks whether err is a not-found error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsPolicy checks whether err is a policy error.
func IsPolicy(err error) bool { return isKind(err, KindPolicy) }

// IsDecode checks whether err is a decode error.
func IsDecode(err error) bool { return isKind(err, KindDecode) }

func isKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// Common error codes.
const (
	ErrCodePackNotFound  = "ERR_PACK_NOT_FOUND"
	ErrCodeSlotNotFound  = "ERR_SLOT_NOT_FOUND"
	ErrCodeEmptyName     = "ERR_EMPTY_NAME"
	ErrCodeBadExtension  = "ERR_BAD_EXTENSION"
	ErrCodeFileTooLarge  = "ERR_FILE_TOO_LARGE"
	ErrCodeFileNotFound  = "ERR_FILE_NOT_FOUND"
	ErrCodeBundledPack   = "ERR_BUNDLED_PACK"
	ErrCodeManifestRead  = "ERR_MANIFEST_READ"
	ErrCodeManifestParse = "ERR_MANIFEST_PARSE"
	ErrCodeManifestWrite = "ERR_MANIFEST_WRITE"
	ErrCodeAssetCopy     = "ERR_ASSET_COPY"
	ErrCodeAssetDecode   = "ERR_ASSET_DECODE"
	ErrCodePackDirCreate = "ERR_PACK_DIR_CREATE"
	ErrCodePackDirDelete = "ERR_PACK_DIR_DELETE"
	ErrCodeOutputFailed  = "ERR_OUTPUT_FAILED"
	ErrCodeInternalError = "ERR_INTERNAL"
)

// Helper constructors for common cases

// ErrPackNotFound creates the standard unknown-pack error.
func ErrPackNotFound(id string) *Error {
	return NewNotFoundError(ErrCodePackNotFound, "sound pack not found: "+id).WithPack(id)
}

// ErrSlotNotFound creates the standard unknown-slot error.
func ErrSlotNotFound(slot string) *Error {
	return NewNotFoundError(ErrCodeSlotNotFound, "slot not found: "+slot).WithSlot(slot)
}

// ErrBundledPack creates the policy error for mutating a bundled pack.
func ErrBundledPack(id string) *Error {
	return NewPolicyError(ErrCodeBundledPack, "cannot modify a bundled sound pack: "+id).WithPack(id)
}
