// Package errors provides the structured error taxonomy used across
// ollamakit. Transport failures are classified once, where they happen, and
// every layer above inspects the code instead of matching error strings.
//
// # Error Categories
//
//   - Transient: the server was unreachable or the connection dropped
//   - Permanent: the server rejected the request (unknown model, bad payload)
//   - Internal: bugs, panics and replies that could not be decoded
//
// # Error Codes
//
//   - CONNECT_FAILED: the server could not be reached
//   - HTTP_STATUS: the server answered with a status >= 400; see HTTPStatus
//   - STREAM_ERROR: the server embedded an error record in the stream
//   - CANCELED, TIMEOUT, NETWORK, DECODE_FAILED, INTERNAL, PANIC
//
// # Usage
//
//	err := errors.HTTPStatus(404, "Not Found", `{"error":"model not found"}`)
//
//	if errors.Is(err, errors.ErrCodeHTTPStatus) && errors.StatusCode(err) == 404 {
//	    // tell the user to pick another model
//	}
//
// Nothing in this package retries; classification only drives what the user
// is told.
package errors
