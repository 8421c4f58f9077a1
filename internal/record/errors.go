package record

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced by the store, the query engine and
// the job executor.
type ErrorCode string

const (
	// CodeNotFound indicates a missing document, dataset or experiment.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a name collision on create.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeMalformedQuery indicates an unparsable predicate.
	CodeMalformedQuery ErrorCode = "MALFORMED_QUERY"

	// CodeCardinalityMismatch indicates unequal matched-input counts.
	CodeCardinalityMismatch ErrorCode = "CARDINALITY_MISMATCH"

	// CodeNoInputsSpecified indicates a job without named inputs.
	CodeNoInputsSpecified ErrorCode = "NO_INPUTS_SPECIFIED"

	// CodeInvalidFormat indicates an unsupported payload format.
	CodeInvalidFormat ErrorCode = "INVALID_FORMAT"

	// CodeExecutionFailure indicates the execution backend returned non-success.
	CodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
)

// Error is a categorized failure.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the failing operation (e.g. "create experiment").
	Op string

	// Path is the document or directory involved, if any.
	Path string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error without an underlying cause.
func Errorf(code ErrorCode, op, path, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around an underlying cause.
func Wrap(code ErrorCode, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Message: string(code), Err: err}
}

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsAlreadyExists reports whether err carries CodeAlreadyExists.
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }

// IsMalformedQuery reports whether err carries CodeMalformedQuery.
func IsMalformedQuery(err error) bool { return CodeOf(err) == CodeMalformedQuery }

// IsCardinalityMismatch reports whether err carries CodeCardinalityMismatch.
func IsCardinalityMismatch(err error) bool { return CodeOf(err) == CodeCardinalityMismatch }

// IsNoInputsSpecified reports whether err carries CodeNoInputsSpecified.
func IsNoInputsSpecified(err error) bool { return CodeOf(err) == CodeNoInputsSpecified }

// IsInvalidFormat reports whether err carries CodeInvalidFormat.
func IsInvalidFormat(err error) bool { return CodeOf(err) == CodeInvalidFormat }

// IsExecutionFailure reports whether err carries CodeExecutionFailure.
func IsExecutionFailure(err error) bool { return CodeOf(err) == CodeExecutionFailure }
