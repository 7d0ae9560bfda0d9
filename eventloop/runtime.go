package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kerrors "github.com/vinayprograms/ollamakit/errors"
	"github.com/vinayprograms/ollamakit/logging"
)

var (
	// ErrNotRunning is returned when work is submitted before the loop is
	// ready or after the runtime has been stopped.
	ErrNotRunning = errors.New("eventloop: runtime is not running")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("eventloop: runtime already started")

	// ErrCancelled is the error of a future whose work was cancelled. It
	// matches context.Canceled.
	ErrCancelled = fmt.Errorf("eventloop: work cancelled: %w", context.Canceled)

	// ErrTimeout is returned when waiting on a future exceeds its timeout.
	ErrTimeout = errors.New("eventloop: timed out waiting for result")

	// ErrPanic wraps a panic recovered from a unit of work.
	ErrPanic = errors.New("eventloop: work panicked")
)

// State is the lifecycle state of a Runtime.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Work is a unit of work run on the loop.
type Work func(ctx context.Context) (any, error)

type contextKey struct{}

// Runtime hosts a cooperative scheduler on a dedicated worker goroutine.
//
// Submitted work runs one unit at a time: a unit holds the loop until it
// reaches a suspension point (Await, Sleep, Yield, Suspend) and the next
// ready unit takes over. Submission is safe from any goroutine.
type Runtime struct {
	name    string
	logger  *logging.Logger
	metrics Metrics

	mu      sync.Mutex // guards started, state and inflight.Add
	started bool
	state   State

	ready    *Signal
	stop     *Signal
	finished *Signal

	// baton is the loop itself: a unit of work runs only while its token
	// is in the channel.
	baton chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithName names the runtime in logs and metrics.
func WithName(name string) Option {
	return func(r *Runtime) {
		r.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// New creates a runtime. Call Start to launch its worker.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		name:     "default",
		logger:   logging.Nop(),
		metrics:  nopMetrics{},
		ready:    NewSignal(),
		stop:     NewSignal(),
		finished: NewSignal(),
		baton:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("eventloop")
	r.ctx, r.cancel = context.WithCancel(context.WithValue(context.Background(), contextKey{}, r))
	return r
}

// With starts a runtime, calls fn with it and always joins the runtime
// before returning fn's error.
func With(fn func(*Runtime) error, opts ...Option) error {
	r := New(opts...)
	if err := r.Start(); err != nil {
		return err
	}
	defer r.Join()
	return fn(r)
}

// Current returns the runtime a unit of work runs on, or nil when ctx does
// not belong to one.
func Current(ctx context.Context) *Runtime {
	r, _ := ctx.Value(contextKey{}).(*Runtime)
	return r
}

// Name returns the runtime name.
func (r *Runtime) Name() string {
	return r.name
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LoopReady returns a channel closed once the loop accepts work.
func (r *Runtime) LoopReady() <-chan struct{} {
	return r.ready.Done()
}

// Finished returns a channel closed once the worker has exited.
func (r *Runtime) Finished() <-chan struct{} {
	return r.finished.Done()
}

// Start launches the worker goroutine. It does not wait for the loop to be
// ready; use LoopReady for that.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	go r.run()
	return nil
}

func (r *Runtime) run() {
	defer r.finished.Resolve()

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()
	r.ready.Resolve()
	r.logger.Lifecycle("loop_ready", map[string]interface{}{"runtime": r.name})

	<-r.stop.Done()

	r.mu.Lock()
	r.state = StateStopping
	r.mu.Unlock()

	// Outstanding work sees the cancellation at its next suspension point.
	r.cancel()
	r.inflight.Wait()

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	r.logger.Lifecycle("loop_stopped", map[string]interface{}{"runtime": r.name})
}

// Stop asks the loop to exit. It never blocks and is safe to call any number
// of times from any goroutine, including from inside a unit of work.
func (r *Runtime) Stop() {
	if r.stop.Resolve() {
		r.logger.Lifecycle("stop_requested", map[string]interface{}{"runtime": r.name})
	}
}

// Join stops the runtime and blocks until the worker has exited. Calling
// Join from inside a unit of work deadlocks.
func (r *Runtime) Join() {
	r.Stop()

	r.mu.Lock()
	if !r.started {
		r.started = true
		r.state = StateStopped
		r.mu.Unlock()
		r.cancel()
		r.finished.Resolve()
		return
	}
	r.mu.Unlock()

	<-r.finished.Done()
}

// Close joins the runtime. It exists for defer and io.Closer.
func (r *Runtime) Close() error {
	r.Join()
	return nil
}

// Submit schedules work on the loop and returns its handle.
func (r *Runtime) Submit(work Work) (*Future[any], error) {
	return Go(r, work)
}

// Go is the typed form of Runtime.Submit.
func Go[T any](r *Runtime, work func(ctx context.Context) (T, error)) (*Future[T], error) {
	r.mu.Lock()
	if r.state != StateRunning || r.stop.Resolved() {
		r.mu.Unlock()
		return nil, ErrNotRunning
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	f := newFuture[T](r.ctx, r.logger)
	r.metrics.TaskSubmitted(r.name)
	go execute(r, f, work)
	return f, nil
}

func execute[T any](r *Runtime, f *Future[T], work func(ctx context.Context) (T, error)) {
	defer r.inflight.Done()

	r.acquire()
	defer r.release()

	start := time.Now()
	if err := f.ctx.Err(); err != nil {
		// Cancelled before it ever ran.
		var zero T
		f.settle(zero, err)
	} else {
		value, err := protect(r, f, work)
		f.settle(value, err)
	}
	r.metrics.TaskFinished(r.name, f.outcomeLabel(), time.Since(start))
}

func protect[T any](r *Runtime, f *Future[T], work func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if p := recover(); p != nil {
			perr := kerrors.RecoverPanic(p)
			r.logger.Error("work_panic", map[string]interface{}{
				"future": f.id,
				"panic":  perr.Error(),
				"stack":  perr.Metadata()["stack"],
			})
			err = fmt.Errorf("%w: %w", ErrPanic, perr)
		}
	}()
	return work(f.ctx)
}

func (r *Runtime) acquire() {
	r.baton <- struct{}{}
}

func (r *Runtime) release() {
	<-r.baton
}
