package internal

import (
	"errors"
	"fmt"
)

// ErrEngineUnavailable means the typesetting engine cannot be reached at all.
var ErrEngineUnavailable = errors.New("typesetting engine unavailable")

// ErrEngineIO marks a local filesystem failure around an engine run, as
// opposed to the engine rejecting the document.
var ErrEngineIO = errors.New("engine scratch I/O failed")

// InputError is a rejected request parameter. It always maps to a 400.
type InputError struct {
	Field     string
	Value     string
	Message   string
	Supported []Format
}

func (e *InputError) Error() string {
	return e.Message
}

func invalidInput(field, value, format string, args ...any) *InputError {
	return &InputError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies a pipeline failure after validation.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidArchive
	KindEntrypointNotFound
	KindUploadTooLarge
	KindCompilationFailed
	KindEmptyOutput
	KindEngineUnavailable
	KindCompilationTimeout
	KindStorageUnavailable
	KindStorageFetchFailed
	// KindCanceled means the client went away before the result was ready.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArchive:
		return "invalid_archive"
	case KindEntrypointNotFound:
		return "entrypoint_not_found"
	case KindUploadTooLarge:
		return "upload_too_large"
	case KindCompilationFailed:
		return "compilation_failed"
	case KindEmptyOutput:
		return "empty_output"
	case KindEngineUnavailable:
		return "engine_unavailable"
	case KindCompilationTimeout:
		return "compilation_timeout"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindStorageFetchFailed:
		return "storage_fetch_failed"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// CompileError is a typed failure from the workspace, engine or storage layer.
type CompileError struct {
	Kind    ErrorKind
	Message string
	// Detail is diagnostic text passed through verbatim, e.g. engine stderr.
	Detail string
	Hint   string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

func newCompileError(kind ErrorKind, err error, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// EngineError carries the engine's diagnostic output for a rejected document.
type EngineError struct {
	Diagnostic string
	Err        error
}

func (e *EngineError) Error() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "engine failed"
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
