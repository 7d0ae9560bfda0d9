package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	kerrors "github.com/vinayprograms/ollamakit/errors"
)

// User-facing failure texts.
const (
	CancelledText  = "(Response cancelled)"
	ConnectText    = "Could not connect to the given address. Is the server running?"
	StreamText     = "The server reported an error while generating a response."
	UnknownText    = "An unknown error occurred. Check the logs for details."
	unexpectedText = "The server returned an unexpected response."
)

var statusGuidance = map[int]string{
	http.StatusBadRequest:          "The server could not understand the conversation payload.",
	http.StatusNotFound:            "Maybe your selected model does not exist?",
	http.StatusInternalServerError: "The server failed while generating a response.",
}

// Outcome labels how an exchange ended.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeConnectError Outcome = "connect_error"
	OutcomeStatusError  Outcome = "status_error"
	OutcomeStreamError  Outcome = "stream_error"
	OutcomeUnknownError Outcome = "unknown_error"
)

// Classify maps the error an exchange ended with onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case kerrors.Is(err, kerrors.ErrCodeConnect):
		return OutcomeConnectError
	case kerrors.Is(err, kerrors.ErrCodeHTTPStatus):
		return OutcomeStatusError
	case kerrors.Is(err, kerrors.ErrCodeStream):
		return OutcomeStreamError
	default:
		return OutcomeUnknownError
	}
}

// FailureText returns what the user is told about err.
func FailureText(err error) string {
	switch Classify(err) {
	case OutcomeCancelled:
		return CancelledText
	case OutcomeConnectError:
		return ConnectText
	case OutcomeStatusError:
		return statusText(err)
	case OutcomeStreamError:
		return StreamText
	default:
		return UnknownText
	}
}

func statusText(err error) string {
	code := kerrors.StatusCode(err)
	if guidance, ok := statusGuidance[code]; ok {
		return fmt.Sprintf("%d %s. %s", code, http.StatusText(code), guidance)
	}
	reason := http.StatusText(code)
	if structured, ok := kerrors.AsError(err); ok {
		if r := structured.Metadata()["reason"]; r != "" {
			reason = r
		}
	}
	return fmt.Sprintf("%d %s. %s", code, reason, unexpectedText)
}
