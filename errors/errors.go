package errors

import (
	"fmt"
	"time"
)

// Error is a structured error carrying a code, a category and optional
// transport details such as the HTTP status the server answered with.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	metadata   map[string]string
	httpStatus int
	timestamp  time.Time
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Message returns the message without the cause.
func (e *Error) Message() string {
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// HTTPStatus returns the HTTP status code attached to the error, or 0.
func (e *Error) HTTPStatus() int {
	return e.httpStatus
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithHTTPStatus attaches the status code of the server reply.
func WithHTTPStatus(code int) Option {
	return func(e *Error) {
		e.httpStatus = code
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Connect creates a connection failure error for the given address.
func Connect(address string, cause error) *Error {
	return New(ErrCodeConnect, fmt.Sprintf("connect %s", address),
		WithCause(cause), WithMetadata("address", address))
}

// HTTPStatus creates an error for a failed server reply. body is the
// diagnostic text the server sent, if any.
func HTTPStatus(code int, reason, body string) *Error {
	opts := []Option{WithHTTPStatus(code), WithMetadata("reason", reason)}
	if body != "" {
		opts = append(opts, WithMetadata("body", body))
	}
	return New(ErrCodeHTTPStatus, fmt.Sprintf("%d %s", code, reason), opts...)
}

// Stream creates an error for an error record embedded in a response stream.
func Stream(message string) *Error {
	return New(ErrCodeStream, message)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
