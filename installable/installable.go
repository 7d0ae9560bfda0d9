package installable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/ollamakit/eventloop"
	"github.com/vinayprograms/ollamakit/logging"
)

// DefaultTimeout bounds both the wait for readiness and the wait for
// teardown unless overridden.
const DefaultTimeout = 5 * time.Second

var (
	// ErrAlreadyInstalled is returned when Install is called on an
	// installer whose resource is still installed.
	ErrAlreadyInstalled = errors.New("installable: already installed")

	// ErrNotReady is returned when a resource's setup returned without
	// signalling readiness.
	ErrNotReady = errors.New("installable: setup returned without signalling ready")

	// ErrTimeout is returned when readiness or teardown exceeds its bound.
	ErrTimeout = errors.New("installable: timed out")
)

// ReadyFunc is handed to Resource.Install. Calling it marks the resource
// ready and returns the channel that is closed when the resource must stop.
// Calling it more than once returns the same channel.
type ReadyFunc func() <-chan struct{}

// Resource is something whose setup and teardown run as one unit of work on
// a runtime. Install sets the resource up, calls ready, waits for the stop
// channel with eventloop.Await and then tears down before returning.
type Resource interface {
	Install(ctx context.Context, ready ReadyFunc) error
}

// ResourceFunc adapts a plain function to the Resource interface.
type ResourceFunc func(ctx context.Context, ready ReadyFunc) error

// Install calls f.
func (f ResourceFunc) Install(ctx context.Context, ready ReadyFunc) error {
	return f(ctx, ready)
}

// Runtime is where setup work is submitted.
type Runtime interface {
	Submit(work eventloop.Work) (*eventloop.Future[any], error)
}

// State is the lifecycle state of an Installer.
type State int32

const (
	StateIdle State = iota
	StateInstalling
	StateInstalled
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateTearingDown:
		return "tearing_down"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Installer pins a Resource's lifetime to a runtime. At most one
// installation is active at a time; after a teardown completes the
// resource can be installed again.
type Installer struct {
	resource     Resource
	name         string
	readyTimeout time.Duration
	stopTimeout  time.Duration
	logger       *logging.Logger

	lock  sync.Mutex
	state atomic.Int32
}

// Option configures an Installer.
type Option func(*Installer)

// WithName names the resource in errors and logs.
func WithName(name string) Option {
	return func(i *Installer) {
		i.name = name
	}
}

// WithReadyTimeout bounds the wait for readiness. A negative value waits
// indefinitely.
func WithReadyTimeout(d time.Duration) Option {
	return func(i *Installer) {
		i.readyTimeout = d
	}
}

// WithStopTimeout bounds the wait for teardown. A negative value waits
// indefinitely.
func WithStopTimeout(d time.Duration) Option {
	return func(i *Installer) {
		i.stopTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(i *Installer) {
		i.logger = logger
	}
}

// New creates an Installer for res.
func New(res Resource, opts ...Option) *Installer {
	i := &Installer{
		resource:     res,
		name:         fmt.Sprintf("%T", res),
		readyTimeout: DefaultTimeout,
		stopTimeout:  DefaultTimeout,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.WithComponent("installable")
	return i
}

// Name returns the resource name.
func (i *Installer) Name() string {
	return i.name
}

// State returns the current lifecycle state.
func (i *Installer) State() State {
	return State(i.state.Load())
}

// Install submits the resource's setup to rt and blocks until the resource
// is ready. It fails with ErrAlreadyInstalled without blocking when another
// installation is active, with the setup's own error or ErrNotReady when
// setup returns before signalling readiness, and with ErrTimeout as soon as
// readiness takes longer than the ready timeout. A timed-out setup is
// cancelled and the Installer stays locked until it returns.
func (i *Installer) Install(rt Runtime) (*Installation, error) {
	if !i.lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, i.name)
	}
	i.state.Store(int32(StateInstalling))

	ready := eventloop.NewSignal()
	stop := eventloop.NewSignal()
	readyFn := func() <-chan struct{} {
		if ready.Resolve() {
			i.logger.Lifecycle("resource_ready", map[string]interface{}{"resource": i.name})
		}
		return stop.Done()
	}

	task, err := rt.Submit(func(ctx context.Context) (any, error) {
		return nil, i.resource.Install(ctx, readyFn)
	})
	if err != nil {
		i.release()
		return nil, fmt.Errorf("installing %s: %w", i.name, err)
	}

	timer, stopTimer := deadline(i.readyTimeout)
	defer stopTimer()
	select {
	case <-ready.Done():
	case <-task.Done():
	case <-timer:
	}

	if ready.Resolved() {
		i.state.Store(int32(StateInstalled))
		return &Installation{installer: i, task: task, stop: stop}, nil
	}

	stop.Resolve()
	if task.IsDone() {
		i.release()
		if err := task.Err(); err != nil {
			return nil, fmt.Errorf("installing %s: %w", i.name, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotReady, i.name)
	}

	// Readiness timed out. The cancellation is expected, so the setup's
	// outcome is not reported. The lock stays held until the setup unwinds.
	i.state.Store(int32(StateTearingDown))
	task.Cancel()
	i.releaseWhenDone(task)
	i.logger.Warn("ready_timeout", map[string]interface{}{
		"resource": i.name,
		"timeout":  i.readyTimeout.String(),
	})
	return nil, fmt.Errorf("%w: %s not ready within %s", ErrTimeout, i.name, i.readyTimeout)
}

// With installs the resource, runs fn and always tears the resource down.
// Errors from fn and from teardown are joined.
func (i *Installer) With(rt Runtime, fn func() error) (err error) {
	inst, err := i.Install(rt)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, inst.Close())
	}()
	return fn()
}

// releaseWhenDone frees the lock once task returns without blocking the
// caller. A task outliving the stop timeout is logged.
func (i *Installer) releaseWhenDone(task *eventloop.Future[any]) {
	var lingering *time.Timer
	if i.stopTimeout >= 0 {
		lingering = time.AfterFunc(i.stopTimeout, func() {
			i.logger.Warn("resource_lingering", map[string]interface{}{"resource": i.name})
		})
	}
	task.AddDoneCallback(func(*eventloop.Future[any]) {
		if lingering != nil {
			lingering.Stop()
		}
		i.release()
	})
}

func (i *Installer) release() {
	i.state.Store(int32(StateIdle))
	i.lock.Unlock()
}

// teardown signals stop and waits for the setup work to return.
func (i *Installer) teardown(in *Installation) error {
	defer i.release()
	i.state.Store(int32(StateTearingDown))
	in.stop.Resolve()

	timer, stopTimer := deadline(i.stopTimeout)
	defer stopTimer()
	select {
	case <-in.task.Done():
	case <-timer:
		in.task.Cancel()
		i.logger.Warn("stop_timeout", map[string]interface{}{
			"resource": i.name,
			"timeout":  i.stopTimeout.String(),
		})
		return fmt.Errorf("%w: %s did not stop within %s", ErrTimeout, i.name, i.stopTimeout)
	}

	// A runtime shutting down underneath an installation cancels it; that
	// is a stop, not a failure.
	if in.task.Cancelled() {
		return nil
	}
	if err := in.task.Err(); err != nil {
		return fmt.Errorf("tearing down %s: %w", i.name, err)
	}
	return nil
}

// Installation is an active installation. Close it to tear the resource
// down.
type Installation struct {
	installer *Installer
	task      *eventloop.Future[any]
	stop      *eventloop.Signal

	once sync.Once
	err  error
}

// Close signals the resource to stop and waits up to the stop timeout for
// its teardown. Close is idempotent; later calls return the first result.
func (in *Installation) Close() error {
	in.once.Do(func() {
		in.err = in.installer.teardown(in)
	})
	return in.err
}

// Done is closed when the resource's work has returned, whether because of
// Close or on its own.
func (in *Installation) Done() <-chan struct{} {
	return in.task.Done()
}

// deadline returns a channel that fires after d, or never when d < 0.
func deadline(d time.Duration) (<-chan time.Time, func()) {
	if d < 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}
