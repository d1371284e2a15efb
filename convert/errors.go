package convert

import (
	"errors"
	"fmt"
)

// Code classifies conversion failures that abort the whole conversion.
// Element-scoped failures never surface here; they become Unrepresentable
// blocks plus warnings on the metadata.
type Code string

const (
	ErrCorruptFile       Code = "CORRUPT_FILE"
	ErrPasswordProtected Code = "PASSWORD_PROTECTED"
	ErrUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	ErrEmptyDocument     Code = "EMPTY_DOCUMENT"
	ErrInternal          Code = "INTERNAL"
)

// Error is a top-level conversion failure. A caller receives either a
// complete Result or one *Error, never both and never a partial document.
type Error struct {
	Code  Code
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf returns the failure code of err, or ErrInternal when err is not a
// conversion error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternal
}
