package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/ollamakit/logging"
)

// Future is the handle of a unit of work submitted to a Runtime. It is safe
// for use from any goroutine.
type Future[T any] struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *logging.Logger

	mu        sync.Mutex
	finished  bool
	value     T
	err       error
	cancelled bool
	callbacks []func(*Future[T])
}

func newFuture[T any](ctx context.Context, logger *logging.Logger) *Future[T] {
	f := &Future[T]{
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		logger: logger,
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	return f
}

// ID returns a unique identifier for the work.
func (f *Future[T]) ID() string {
	return f.id
}

// Cancel requests cancellation. The work observes it at its next suspension
// point. Cancel returns false if the work has already finished.
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	finished := f.finished
	f.mu.Unlock()
	if finished {
		return false
	}
	f.cancel()
	return true
}

// Done returns a channel that is closed when the work has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the work has finished.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Cancelled reports whether the work finished by honouring a cancellation.
func (f *Future[T]) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Err returns the error the work finished with. It is nil while the work is
// pending and ErrCancelled if the work was cancelled, whatever error the
// work itself returned.
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return ErrCancelled
	}
	return f.err
}

// Result waits up to timeout for the work to finish and returns its outcome.
// A timeout of zero or less waits indefinitely. Exceeding the timeout
// returns ErrTimeout and leaves the work running.
func (f *Future[T]) Result(timeout time.Duration) (T, error) {
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-f.done:
		case <-timer.C:
			var zero T
			return zero, ErrTimeout
		}
	} else {
		<-f.done
	}
	return f.outcome()
}

// Wait blocks until the work finishes or ctx is done. Called from another
// unit of work it suspends instead of holding the loop.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if err := Await(ctx, f.done); err != nil {
		var zero T
		return zero, err
	}
	return f.outcome()
}

// AddDoneCallback registers fn to run when the work finishes. Callbacks
// registered before completion run on the loop, in registration order,
// right after the work returns. Registered after completion, fn runs
// immediately on the calling goroutine.
func (f *Future[T]) AddDoneCallback(fn func(*Future[T])) {
	f.mu.Lock()
	if !f.finished {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.invoke(fn)
}

func (f *Future[T]) outcome() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		var zero T
		return zero, ErrCancelled
	}
	return f.value, f.err
}

// settle records the outcome and runs callbacks. The caller holds the loop.
func (f *Future[T]) settle(value T, err error) {
	f.mu.Lock()
	f.finished = true
	if err != nil && errors.Is(err, context.Canceled) && f.ctx.Err() != nil {
		f.cancelled = true
	} else {
		f.value = value
		f.err = err
	}
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	close(f.done)
	f.cancel()

	for _, fn := range callbacks {
		f.invoke(fn)
	}
}

func (f *Future[T]) invoke(fn func(*Future[T])) {
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("done_callback_panic", map[string]interface{}{
				"future": f.id,
				"panic":  p,
			})
		}
	}()
	fn(f)
}

func (f *Future[T]) outcomeLabel() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.cancelled:
		return OutcomeCancelled
	case errors.Is(f.err, ErrPanic):
		return OutcomePanic
	case f.err != nil:
		return OutcomeError
	default:
		return OutcomeOK
	}
}
