package errors

// ErrorCategory classifies errors by how the caller should react to them.
type ErrorCategory string

const (
	// CategoryTransient indicates a failure that may clear up without any
	// change on the caller's side. Examples: server not running, dropped
	// connection.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates a failure that repeats until the request
	// changes. Examples: unknown model, malformed conversation payload.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates a bug or an unexpected server reply.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeConnect ErrorCode = "CONNECT_FAILED" // Server unreachable
	ErrCodeNetwork ErrorCode = "NETWORK"        // Connection failed after it was established
	ErrCodeTimeout ErrorCode = "TIMEOUT"        // Operation timed out

	// Permanent errors
	ErrCodeHTTPStatus   ErrorCode = "HTTP_STATUS"   // Server answered with a failure status
	ErrCodeStream       ErrorCode = "STREAM_ERROR"  // Server reported an error inside the stream
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed request or settings
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Internal errors
	ErrCodeDecode   ErrorCode = "DECODE_FAILED" // Server reply could not be decoded
	ErrCodeInternal ErrorCode = "INTERNAL"      // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"         // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeConnect, ErrCodeNetwork, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeHTTPStatus, ErrCodeStream, ErrCodeInvalidInput, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeConnect:      "could not connect to server",
	ErrCodeNetwork:      "network error",
	ErrCodeTimeout:      "operation timed out",
	ErrCodeHTTPStatus:   "server returned a failure status",
	ErrCodeStream:       "server reported a stream error",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeDecode:       "could not decode server reply",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
