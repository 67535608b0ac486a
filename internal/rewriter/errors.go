package rewriter

import (
	"errors"
	"fmt"
	"strings"
)

// Error is returned by every registry and pipeline operation.
//
// Errors cover:
//   - Invalid requests: a field outside AllowedFields
//   - Unresolvable plugin dependencies
//   - Pipeline failures: SORT misuse, bad limits, callback and thunk errors
//
// Err holds the underlying cause, if any.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Fields lists the offending fields (INVALID_FIELD, MISSING_DEPENDENCY).
	Fields []string

	// Path locates the offending node for pipeline errors.
	Path []any

	// Err is the wrapped cause.
	Err error
}

// ErrorCode categorizes rewriter errors.
type ErrorCode string

const (
	// ErrCodeInvalidField indicates a requested field is not allowed.
	ErrCodeInvalidField ErrorCode = "INVALID_FIELD"

	// ErrCodeMissingDependency indicates a resolved fetch field is not a
	// source field.
	ErrCodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"

	// ErrCodeSortTarget indicates a SORT plugin matched a node outside an array.
	ErrCodeSortTarget ErrorCode = "SORT_TARGET"

	// ErrCodeInvalidLimit indicates a SORT plugin returned a negative or
	// non-integer limit.
	ErrCodeInvalidLimit ErrorCode = "INVALID_LIMIT"

	// ErrCodeAsyncRequired indicates Rewrite was used while inject plugins
	// scheduled asynchronous work.
	ErrCodeAsyncRequired ErrorCode = "ASYNC_REQUIRED"

	// ErrCodeInjectFailed indicates an asynchronous inject thunk failed.
	ErrCodeInjectFailed ErrorCode = "INJECT_FAILED"

	// ErrCodeCallbackFailed indicates a plugin callback returned an error.
	ErrCodeCallbackFailed ErrorCode = "CALLBACK_FAILED"

	// ErrCodeInvalidPlugin indicates a factory produced an unusable plugin.
	ErrCodeInvalidPlugin ErrorCode = "INVALID_PLUGIN"
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " (path=%s)", formatPath(e.Path))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is an *Error with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsInvalidFieldError returns true if a requested field was not allowed.
func IsInvalidFieldError(err error) bool { return HasCode(err, ErrCodeInvalidField) }

// IsMissingDependencyError returns true if a dependency could not be fetched.
func IsMissingDependencyError(err error) bool { return HasCode(err, ErrCodeMissingDependency) }

// IsAsyncRequiredError returns true if Rewrite met asynchronous work.
func IsAsyncRequiredError(err error) bool { return HasCode(err, ErrCodeAsyncRequired) }

// IsInjectFailedError returns true if an asynchronous inject thunk failed.
func IsInjectFailedError(err error) bool { return HasCode(err, ErrCodeInjectFailed) }

func newInvalidFieldError(fields []string) *Error {
	return &Error{
		Code:    ErrCodeInvalidField,
		Message: "bad field requested: " + strings.Join(fields, ", "),
		Fields:  fields,
	}
}

func newMissingDependencyError(fields []string) *Error {
	return &Error{
		Code:    ErrCodeMissingDependency,
		Message: "bad field dependency: " + strings.Join(fields, ", "),
		Fields:  fields,
	}
}

func newCallbackError(kind fmt.Stringer, target string, path []any, err error) *Error {
	return &Error{
		Code:    ErrCodeCallbackFailed,
		Message: fmt.Sprintf("%s plugin %q failed", kind, target),
		Path:    path,
		Err:     err,
	}
}

// formatPath renders a node path as "items[2].owner".
func formatPath(path []any) string {
	var b strings.Builder
	for _, p := range path {
		switch v := p.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}
