package eventloop

import (
	"context"
	"runtime"
	"time"
)

// Suspend releases the loop while fn runs and takes it back before
// returning. Wrap every blocking call a unit of work makes (network reads,
// channel receives, file I/O) so other units can run meanwhile.
//
// Suspend must be called from the goroutine running the unit of work.
// Outside a runtime it simply calls fn. When fn succeeds but ctx was
// cancelled meanwhile, Suspend returns the context's error so the caller
// stops before acting on what fn produced.
func Suspend(ctx context.Context, fn func() error) (err error) {
	if r := Current(ctx); r != nil {
		r.release()
		defer r.acquire()
	}
	if err = fn(); err == nil {
		err = ctx.Err()
	}
	return err
}

// Await suspends until ch is closed or ctx is done. A cancellation that is
// already pending wins over a ready channel.
func Await(ctx context.Context, ch <-chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return Suspend(ctx, func() error {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Sleep suspends for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	return Suspend(ctx, func() error {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Yield gives other ready units a chance to run.
func Yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return Suspend(ctx, func() error {
		runtime.Gosched()
		return ctx.Err()
	})
}
