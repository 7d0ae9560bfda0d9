package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vinayprograms/ollamakit/eventloop"
	"github.com/vinayprograms/ollamakit/logging"
	"github.com/vinayprograms/ollamakit/ollama"
	"github.com/vinayprograms/ollamakit/telemetry"
)

// WaitingText is the placeholder of a response that has not started.
const WaitingText = "Waiting for response..."

// ErrBusy is returned by Send while an exchange is in flight.
var ErrBusy = errors.New("chat: an exchange is already in flight")

// Runtime is where exchanges run.
type Runtime interface {
	Submit(work eventloop.Work) (*eventloop.Future[any], error)
}

// Exchange is a completed prompt and response.
type Exchange struct {
	Address   string
	Model     string
	Prompt    string
	Response  string
	StartedAt time.Time
	Duration  time.Duration
}

// Archive stores completed exchanges.
type Archive interface {
	Record(ctx context.Context, ex Exchange) error
}

// Metrics receives chat instrumentation.
type Metrics interface {
	ExchangeFinished(model string, outcome Outcome, elapsed time.Duration)
}

// Session is a conversation bound to a runtime and a streamer. Send starts
// an exchange; at most one runs at a time.
type Session struct {
	rt       Runtime
	streamer Streamer
	history  *History
	archive  Archive
	logger   *logging.Logger
	metrics  Metrics
	tracer   *telemetry.Tracer
	refresh  func(*Message)
	onDone   func(*eventloop.Future[any])

	mu      sync.Mutex
	address string
	model   string
	current *eventloop.Future[any]
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithAddress sets the server address.
func WithAddress(address string) SessionOption {
	return func(s *Session) {
		s.address = address
	}
}

// WithModel sets the model.
func WithModel(model string) SessionOption {
	return func(s *Session) {
		s.model = model
	}
}

// WithArchive records every successful exchange in a.
func WithArchive(a Archive) SessionOption {
	return func(s *Session) {
		s.archive = a
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTracer traces every exchange with t.
func WithTracer(t *telemetry.Tracer) SessionOption {
	return func(s *Session) {
		s.tracer = t
	}
}

// WithRefresh installs fn as the refresh hook of every message the session
// creates. It runs on the runtime's loop during an exchange.
func WithRefresh(fn func(*Message)) SessionOption {
	return func(s *Session) {
		s.refresh = fn
	}
}

// WithDone calls fn on the loop after every exchange, once the session is
// ready for the next Send.
func WithDone(fn func(*eventloop.Future[any])) SessionOption {
	return func(s *Session) {
		s.onDone = fn
	}
}

// WithSystemPrompt starts the conversation with a system message.
func WithSystemPrompt(prompt string) SessionOption {
	return func(s *Session) {
		if prompt != "" {
			s.history.Add(NewMessage(RoleSystem, prompt))
		}
	}
}

// NewSession creates a session.
func NewSession(rt Runtime, streamer Streamer, opts ...SessionOption) *Session {
	s := &Session{
		rt:       rt,
		streamer: streamer,
		history:  NewHistory(),
		logger:   logging.Nop(),
		address:  ollama.DefaultAddress,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("chat")
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	for _, m := range s.history.Messages() {
		m.OnRefresh(s.refresh)
	}
	return s
}

// History returns the conversation.
func (s *Session) History() *History {
	return s.history
}

// SetModel changes the model for later exchanges.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Model returns the current model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetAddress changes the server address for later exchanges.
func (s *Session) SetAddress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
}

// Busy reports whether an exchange is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Send appends content as a user message followed by an assistant
// placeholder, and streams the response into the placeholder. The returned
// future resolves with the assistant *Message.
func (s *Session) Send(content string) (*eventloop.Future[any], error) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	source := NewMessage(RoleUser, content)
	target := NewMessage(RoleAssistant, WaitingText)
	source.OnRefresh(s.refresh)
	target.OnRefresh(s.refresh)
	s.history.Add(source, target)

	req := ollama.ChatRequest{
		Address:  s.address,
		Model:    s.model,
		Messages: s.history.Dump(target),
	}
	ctrl := NewController(target, source, WithControllerLogger(s.logger))
	started := time.Now()

	fut, err := s.rt.Submit(func(ctx context.Context) (any, error) {
		source.Refresh()
		target.Refresh()

		ctx, span := s.tracer.StartExchange(ctx, req.Model)
		err := ctrl.Run(ctx, s.streamer, req)
		s.tracer.EndExchange(span, telemetry.ExchangeSpanOptions{
			Address:  req.Address,
			Model:    req.Model,
			Messages: len(req.Messages),
			Outcome:  string(Classify(err)),
			Records:  ctrl.Records(),
			Prompt:   content,
			Response: target.Content(),
		}, err)
		if err != nil {
			return target, err
		}
		s.record(ctx, req, source, target, started)
		return target, nil
	})
	if err != nil {
		s.history.Remove(source, target)
		s.mu.Unlock()
		return nil, err
	}
	s.current = fut
	s.mu.Unlock()

	fut.AddDoneCallback(func(f *eventloop.Future[any]) {
		s.finish(f, req.Model, started)
	})
	return fut, nil
}

// Cancel cancels the exchange in flight. It reports whether there was one
// to cancel.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	fut := s.current
	s.mu.Unlock()
	if fut == nil {
		return false
	}
	return fut.Cancel()
}

// Clear drops the conversation. It fails with ErrBusy during an exchange.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ErrBusy
	}
	s.history.Clear()
	return nil
}

func (s *Session) finish(f *eventloop.Future[any], model string, started time.Time) {
	elapsed := time.Since(started)

	// Cancelled futures carry no meaningful error; check that first.
	outcome := OutcomeCancelled
	if !f.Cancelled() {
		outcome = Classify(f.Err())
	}

	switch outcome {
	case OutcomeCancelled:
		s.logger.Info("exchange_cancelled", map[string]interface{}{"model": model})
	case OutcomeOK:
		s.logger.RequestComplete(model, elapsed, string(outcome), nil)
	default:
		s.logger.RequestComplete(model, elapsed, string(outcome), f.Err())
	}
	if s.metrics != nil {
		s.metrics.ExchangeFinished(model, outcome, elapsed)
	}

	s.mu.Lock()
	if s.current == f {
		s.current = nil
	}
	s.mu.Unlock()

	if s.onDone != nil {
		s.onDone(f)
	}
}

func (s *Session) record(ctx context.Context, req ollama.ChatRequest, source, target *Message, started time.Time) {
	if s.archive == nil {
		return
	}
	ex := Exchange{
		Address:   req.Address,
		Model:     req.Model,
		Prompt:    source.Content(),
		Response:  target.Content(),
		StartedAt: started,
		Duration:  time.Since(started),
	}
	err := eventloop.Suspend(ctx, func() error {
		return s.archive.Record(ctx, ex)
	})
	if err != nil {
		s.logger.Warn("archive_failed", map[string]interface{}{"error": err.Error()})
	}
}
