// Package telemetry traces chat exchanges with OpenTelemetry.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used when none is configured.
const InstrumentationName = "github.com/vinayprograms/ollamakit"

// Tracer wraps an OpenTelemetry tracer with exchange helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, prompts and responses are recorded on spans
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or one bound to the global
// provider if none was set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NewTracer(InstrumentationName, false)
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from tp.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// Debug reports whether content is recorded on spans.
func (t *Tracer) Debug() bool {
	return t.debug
}

// ExchangeSpanOptions describes a finished exchange.
type ExchangeSpanOptions struct {
	Address  string
	Model    string
	Messages int
	Outcome  string
	Records  int
	Prompt   string // Only recorded in debug mode
	Response string // Only recorded in debug mode
}

// StartExchange starts a client span for one chat exchange.
func (t *Tracer) StartExchange(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "chat.exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", model)),
	)
}

// EndExchange ends span with the exchange attributes and err.
func (t *Tracer) EndExchange(span trace.Span, opts ExchangeSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", "ollama"),
		attribute.String("server.address", opts.Address),
		attribute.Int("chat.messages", opts.Messages),
		attribute.Int("chat.records", opts.Records),
		attribute.String("chat.outcome", opts.Outcome),
	}
	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}
	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// FirstToken marks the arrival of the first response delta.
func FirstToken(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("first_token")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
