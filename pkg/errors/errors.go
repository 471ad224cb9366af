// Package errors provides structured error types for Tilecraft.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI, pipeline and tile server
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Stage-level codes mirror the failure taxonomy of the pipeline:
//   - OSM_PROCESSING: the source data file is missing, unreadable or malformed
//   - GEOMETRY_VALIDATION: a single entity could not be turned into a geometry
//   - FEATURE_EXTRACTION: extraction could not produce any output
//   - TILE_GENERATION: the tile compiler exhausted its retries or degradation budget
//   - VALIDATION: a produced archive failed its structural checks
//
// Input codes (INVALID_*) report bad caller input before any work starts.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidRegion, "east must be greater than west")
//	if errors.Is(err, errors.ErrCodeInvalidRegion) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeOSMProcessing, origErr, "open %s", path)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidRegion   Code = "INVALID_REGION"
	ErrCodeInvalidCategory Code = "INVALID_CATEGORY"
	ErrCodeInvalidZoom     Code = "INVALID_ZOOM"
	ErrCodeInvalidPath     Code = "INVALID_PATH"

	// Stage errors
	ErrCodeOSMProcessing      Code = "OSM_PROCESSING"
	ErrCodeGeometryValidation Code = "GEOMETRY_VALIDATION"
	ErrCodeFeatureExtraction  Code = "FEATURE_EXTRACTION"
	ErrCodeTileGeneration     Code = "TILE_GENERATION"
	ErrCodeValidation         Code = "VALIDATION"

	// Cache errors
	ErrCodeCacheConflict Code = "CACHE_CONFLICT"

	// Resource errors
	ErrCodeFileNotFound Code = "FILE_NOT_FOUND"
	ErrCodeTimeout      Code = "TIMEOUT"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It walks the whole error chain, so an OSM_PROCESSING error wrapped by a
// stage error with another code is still found.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Fatal reports whether err must abort a run. Geometry validation errors are
// recovered per entity and never abort on their own.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return GetCode(err) != ErrCodeGeometryValidation
}
