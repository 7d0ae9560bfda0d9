package shutdown

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Phases used by ollamachat. Lower phases run first; handlers sharing a
// phase run concurrently.
const (
	// PhaseExchanges cancels exchanges still in flight.
	PhaseExchanges = 10
	// PhaseResources closes installations (HTTP clients).
	PhaseResources = 20
	// PhaseRuntime joins event loop runtimes.
	PhaseRuntime = 30
	// PhaseStorage closes indexes and files.
	PhaseStorage = 40
	// PhaseTelemetry stops the metrics endpoint last so teardown is observable.
	PhaseTelemetry = 50
)

// Handler is implemented by components that take part in shutdown.
type Handler interface {
	// OnShutdown releases the component. ctx is cancelled when the overall
	// shutdown timeout is reached.
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// Closer adapts an io.Closer to Handler. Close ignores ctx.
func Closer(c io.Closer) Handler {
	return HandlerFunc(func(context.Context) error {
		return c.Close()
	})
}

// HandlerResult is the outcome of a single handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

// Failed returns true if any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the coordinator.
type Config struct {
	// DefaultTimeout is used by ShutdownWithTimeout(0).
	// Default: 10 seconds
	DefaultTimeout time.Duration

	// DefaultPhase is assigned to handlers registered without a phase.
	// Default: 100
	DefaultPhase int

	// ContinueOnError keeps running later phases after a failure.
	// Default: true
	ContinueOnError bool

	// OnProgress is called when each handler completes.
	OnProgress func(result HandlerResult)
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  10 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
