package installable

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/ollamakit/eventloop"
)

func startRuntime(t *testing.T) *eventloop.Runtime {
	t.Helper()
	rt := eventloop.New(eventloop.WithName("installable-test"))
	require.NoError(t, rt.Start())
	<-rt.LoopReady()
	t.Cleanup(rt.Join)
	return rt
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// nullResource signals ready and waits for stop.
func nullResource(rec *recorder) ResourceFunc {
	return func(ctx context.Context, ready ReadyFunc) error {
		rec.add("setup")
		err := eventloop.Await(ctx, ready())
		rec.add("teardown")
		return err
	}
}

func TestInstall_Null(t *testing.T) {
	rt := startRuntime(t)
	rec := &recorder{}
	inst := New(nullResource(rec), WithName("null"))

	in, err := inst.Install(rt)
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, inst.State())

	require.NoError(t, in.Close())
	assert.Equal(t, StateIdle, inst.State())
	assert.Equal(t, []string{"setup", "teardown"}, rec.all())

	select {
	case <-in.Done():
	default:
		t.Fatal("setup work should be finished after Close")
	}
}

func TestInstall_EarlyReturn(t *testing.T) {
	rt := startRuntime(t)
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		return nil
	}))

	_, err := inst.Install(rt)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, StateIdle, inst.State())
}

func TestInstall_Faulty(t *testing.T) {
	rt := startRuntime(t)
	faulty := errors.New("test")
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		return faulty
	}))

	_, err := inst.Install(rt)
	assert.ErrorIs(t, err, faulty)
	assert.NotErrorIs(t, err, ErrNotReady)
}

func TestInstall_LongReady(t *testing.T) {
	rt := startRuntime(t)
	cancelled := make(chan struct{})
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		if err := eventloop.Sleep(ctx, 300*time.Millisecond); err != nil {
			close(cancelled)
			return err
		}
		return eventloop.Await(ctx, ready())
	}), WithReadyTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := inst.Install(rt)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 300*time.Millisecond)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("setup should be cancelled after the ready timeout")
	}

	// Once the setup has unwound the lock is free, so installing again fails
	// on the timeout, not on contention.
	require.Eventually(t, func() bool { return inst.State() == StateIdle },
		time.Second, 5*time.Millisecond)
	_, err = inst.Install(rt)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInstall_ReadyTimeoutIgnoringCancel(t *testing.T) {
	rt := startRuntime(t)
	unwound := make(chan struct{})
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		defer close(unwound)
		// Blocks without watching ctx.
		_ = eventloop.Suspend(ctx, func() error {
			time.Sleep(1500 * time.Millisecond)
			return nil
		})
		return ctx.Err()
	}), WithReadyTimeout(100*time.Millisecond), WithStopTimeout(3*time.Second))

	start := time.Now()
	_, err := inst.Install(rt)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// Still unwinding: a second install fails fast on contention.
	_, err = inst.Install(rt)
	assert.ErrorIs(t, err, ErrAlreadyInstalled)

	select {
	case <-unwound:
	case <-time.After(5 * time.Second):
		t.Fatal("setup never returned")
	}
	require.Eventually(t, func() bool { return inst.State() == StateIdle },
		time.Second, 5*time.Millisecond)
}

func TestInstall_LongStop(t *testing.T) {
	rt := startRuntime(t)
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		if err := eventloop.Await(ctx, ready()); err != nil {
			return err
		}
		return eventloop.Sleep(ctx, 300*time.Millisecond)
	}), WithStopTimeout(100*time.Millisecond))

	in, err := inst.Install(rt)
	require.NoError(t, err)

	err = in.Close()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateIdle, inst.State())

	// Close is idempotent.
	assert.ErrorIs(t, in.Close(), ErrTimeout)

	select {
	case <-in.Done():
	case <-time.After(time.Second):
		t.Fatal("teardown should be cancelled after the stop timeout")
	}
}

func TestInstall_TeardownErrorPropagates(t *testing.T) {
	rt := startRuntime(t)
	cleanup := errors.New("cleanup failed")
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		if err := eventloop.Await(ctx, ready()); err != nil {
			return err
		}
		return cleanup
	}))

	in, err := inst.Install(rt)
	require.NoError(t, err)
	assert.ErrorIs(t, in.Close(), cleanup)
}

func TestInstall_Repeat(t *testing.T) {
	rt := startRuntime(t)
	rec := &recorder{}
	inst := New(nullResource(rec))

	for i := 0; i < 3; i++ {
		in, err := inst.Install(rt)
		require.NoError(t, err, "cycle %d", i)
		require.NoError(t, in.Close(), "cycle %d", i)
	}
	assert.Equal(t, []string{
		"setup", "teardown",
		"setup", "teardown",
		"setup", "teardown",
	}, rec.all())
}

func TestInstall_Double(t *testing.T) {
	rt := startRuntime(t)
	inst := New(nullResource(&recorder{}))

	in, err := inst.Install(rt)
	require.NoError(t, err)
	defer in.Close()

	start := time.Now()
	_, err = inst.Install(rt)
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "contention must fail fast")
	assert.Equal(t, StateInstalled, inst.State())
}

func TestInstall_RuntimeNotRunning(t *testing.T) {
	rt := eventloop.New()
	inst := New(nullResource(&recorder{}))

	_, err := inst.Install(rt)
	assert.ErrorIs(t, err, eventloop.ErrNotRunning)

	// The failed attempt does not hold the lock.
	rt2 := startRuntime(t)
	in, err := inst.Install(rt2)
	require.NoError(t, err)
	require.NoError(t, in.Close())
}

func TestInstall_RuntimeShutdownIsNotAFailure(t *testing.T) {
	rt := eventloop.New()
	require.NoError(t, rt.Start())
	<-rt.LoopReady()

	inst := New(nullResource(&recorder{}))
	in, err := inst.Install(rt)
	require.NoError(t, err)

	rt.Join()
	assert.NoError(t, in.Close())
}

func TestWith(t *testing.T) {
	rt := startRuntime(t)
	rec := &recorder{}
	inst := New(nullResource(rec))

	failure := errors.New("body failed")
	err := inst.With(rt, func() error {
		rec.add("body")
		assert.Equal(t, StateInstalled, inst.State())
		return failure
	})

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []string{"setup", "body", "teardown"}, rec.all())
	assert.Equal(t, StateIdle, inst.State())
}

func TestWith_JoinsTeardownError(t *testing.T) {
	rt := startRuntime(t)
	cleanup := errors.New("cleanup failed")
	body := errors.New("body failed")
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		_ = eventloop.Await(ctx, ready())
		return cleanup
	}))

	err := inst.With(rt, func() error { return body })
	assert.ErrorIs(t, err, body)
	assert.ErrorIs(t, err, cleanup)
}

func TestReadyCalledTwice(t *testing.T) {
	rt := startRuntime(t)
	inst := New(ResourceFunc(func(ctx context.Context, ready ReadyFunc) error {
		first := ready()
		second := ready()
		if first != second {
			return errors.New("ready returned different stop channels")
		}
		return eventloop.Await(ctx, first)
	}))

	require.NoError(t, inst.With(rt, func() error { return nil }))
}

func TestDefaultName(t *testing.T) {
	inst := New(ResourceFunc(nil))
	assert.Equal(t, "installable.ResourceFunc", inst.Name())
	assert.Equal(t, "tearing_down", StateTearingDown.String())
}
