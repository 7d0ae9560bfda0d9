package chat

import (
	"context"
	"fmt"

	kerrors "github.com/vinayprograms/ollamakit/errors"
	"github.com/vinayprograms/ollamakit/logging"
	"github.com/vinayprograms/ollamakit/ollama"
	"github.com/vinayprograms/ollamakit/telemetry"
)

// Streamer performs one streaming exchange. ollama.Client and
// ollama.OpenAIClient implement it.
type Streamer interface {
	StreamChat(ctx context.Context, req ollama.ChatRequest, h ollama.Handler) error
}

// Controller applies one streaming exchange to a target message. The
// source is the message that prompted the exchange; on failure both are
// hidden so they stay out of later requests.
//
// A Controller is driven from a single unit of work and is not safe for
// concurrent use.
type Controller struct {
	target  *Message
	source  *Message
	logger  *logging.Logger
	started bool
	records int

	// ctx of the exchange in Run, for span events.
	ctx context.Context
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger.
func WithControllerLogger(logger *logging.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a controller writing into target.
func NewController(target, source *Message, opts ...ControllerOption) *Controller {
	c := &Controller{
		target: target,
		source: source,
		logger: logging.Nop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Started reports whether the server accepted the request.
func (c *Controller) Started() bool {
	return c.started
}

// Records returns the number of delta records applied.
func (c *Controller) Records() int {
	return c.records
}

// Run streams req through s into the target and routes any failure to
// OnCancel or OnError. It returns the exchange's error unchanged.
func (c *Controller) Run(ctx context.Context, s Streamer, req ollama.ChatRequest) error {
	c.ctx = ctx
	err := s.StreamChat(ctx, req, c)
	switch Classify(err) {
	case OutcomeOK:
		return nil
	case OutcomeCancelled:
		c.OnCancel()
	default:
		c.OnError(err)
	}
	return err
}

// OnConnect clears the placeholder content.
func (c *Controller) OnConnect() {
	c.started = true
	c.target.SetContent("")
	c.target.Refresh()
}

// OnRecord applies one stream record.
func (c *Controller) OnRecord(rec ollama.StreamRecord) error {
	switch rec.Kind() {
	case ollama.RecordError:
		return kerrors.Stream(rec.Error)
	case ollama.RecordDone:
		c.logger.Debug("stream_done", map[string]interface{}{
			"model":         rec.Model,
			"done_reason":   rec.DoneReason,
			"prompt_tokens": rec.PromptEvalCount,
			"output_tokens": rec.EvalCount,
		})
		return nil
	}

	if c.records == 0 {
		telemetry.FirstToken(c.ctx)
	}
	c.records++
	if rec.Message.Role != "" {
		c.target.SetRole(Role(rec.Message.Role))
	}
	c.target.Append(rec.Message.Content)
	c.target.Refresh()
	return nil
}

// OnCancel records that the exchange was cancelled.
func (c *Controller) OnCancel() {
	c.fail(CancelledText)
}

// OnError records a failed exchange and logs it at a level matching how
// surprising the failure is.
func (c *Controller) OnError(err error) {
	fields := map[string]interface{}{"error": err.Error()}

	switch Classify(err) {
	case OutcomeConnectError:
		c.logger.Warn("connect_failed", fields)
	case OutcomeStatusError:
		fields["status"] = kerrors.StatusCode(err)
		if structured, ok := kerrors.AsError(err); ok {
			if body := structured.Metadata()["body"]; body != "" {
				fields["body"] = body
			}
		}
		c.logger.Warn("status_error", fields)
	case OutcomeStreamError:
		c.logger.Error("stream_error", fields)
	default:
		fields["type"] = fmt.Sprintf("%T", err)
		if structured, ok := kerrors.AsError(err); ok {
			fields["code"] = structured.Code()
			if stack := structured.Metadata()["stack"]; stack != "" {
				fields["stack"] = stack
			}
		}
		c.logger.Error("unknown_error", fields)
	}

	c.fail(FailureText(err))
}

// fail appends text after partial output, or replaces the placeholder when
// nothing streamed, and hides both messages.
func (c *Controller) fail(text string) {
	if c.started {
		c.target.SetContent(c.target.Content() + "...\n\n" + text)
	} else {
		c.target.SetContent(text)
	}
	c.target.SetHidden(true)
	c.target.Refresh()

	if c.source != nil {
		c.source.SetHidden(true)
		c.source.Refresh()
	}
}
