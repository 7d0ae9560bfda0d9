package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err already carries an *Error, the code, category and status are kept.
// Context errors map to ErrCodeCanceled and ErrCodeTimeout; anything else
// becomes ErrCodeInternal.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		wrapped := &Error{
			code:       structured.code,
			category:   structured.category,
			message:    message,
			cause:      err,
			metadata:   structured.Metadata(),
			httpStatus: structured.httpStatus,
			timestamp:  structured.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsError extracts the first *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var structured *Error
	if errors.As(err, &structured) {
		return structured, true
	}
	return nil, false
}

// Is checks if the first structured error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	if structured, ok := AsError(err); ok {
		return structured.code == code
	}
	return false
}

// IsCategory checks if the first structured error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	if structured, ok := AsError(err); ok {
		return structured.category == category
	}
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	if structured, ok := AsError(err); ok {
		return structured.code
	}
	return ""
}

// StatusCode extracts the HTTP status from an error chain, or 0.
func StatusCode(err error) int {
	if structured, ok := AsError(err); ok {
		return structured.httpStatus
	}
	return 0
}

// Join combines multiple errors into a single error.
// If all errors are nil, returns nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error. The stack of
// the panicking goroutine is kept in the "stack" metadata key.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message,
		WithMetadata("panic_value", fmt.Sprintf("%T", recovered)),
		WithMetadata("stack", string(debug.Stack())))
}
