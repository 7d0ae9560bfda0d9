package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt := New(opts...)
	require.NoError(t, rt.Start())
	select {
	case <-rt.LoopReady():
	case <-time.After(time.Second):
		t.Fatal("loop never became ready")
	}
	t.Cleanup(rt.Join)
	return rt
}

// eventLog records events from units of work and the test goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestRuntime_StartAndStop(t *testing.T) {
	rt := New()
	assert.Equal(t, StateNotStarted, rt.State())

	require.NoError(t, rt.Start())
	<-rt.LoopReady()
	assert.Equal(t, StateRunning, rt.State())

	rt.Join()
	assert.Equal(t, StateStopped, rt.State())

	_, err := rt.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotRunning)

	select {
	case <-rt.Finished():
	default:
		t.Fatal("finished should be resolved after Join")
	}
}

func TestRuntime_StopImmediately(t *testing.T) {
	rt := New()
	require.NoError(t, rt.Start())
	rt.Stop()
	rt.Join()

	assert.Equal(t, StateStopped, rt.State())
	_, err := rt.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestRuntime_SubmitBeforeStart(t *testing.T) {
	rt := New()
	_, err := rt.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestRuntime_StartTwice(t *testing.T) {
	rt := startRuntime(t)
	assert.ErrorIs(t, rt.Start(), ErrAlreadyStarted)
}

func TestRuntime_StopIsIdempotent(t *testing.T) {
	rt := startRuntime(t)
	rt.Stop()
	rt.Stop()
	rt.Join()
	rt.Join()
	assert.Equal(t, StateStopped, rt.State())
}

func TestRuntime_JoinWithoutStart(t *testing.T) {
	rt := New()
	rt.Join()
	assert.Equal(t, StateStopped, rt.State())
	assert.ErrorIs(t, rt.Start(), ErrAlreadyStarted)
}

func TestRuntime_SubmitReturnsValue(t *testing.T) {
	rt := startRuntime(t)

	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		if err := Sleep(ctx, 0); err != nil {
			return nil, err
		}
		return "value", nil
	})
	require.NoError(t, err)

	got, err := fut.Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.False(t, fut.Cancelled())
	assert.NotEmpty(t, fut.ID())
}

func TestGo_Typed(t *testing.T) {
	rt := startRuntime(t)

	fut, err := Go(rt, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)

	got, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRuntime_WorkError(t *testing.T) {
	rt := startRuntime(t)
	boom := errors.New("boom")

	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = fut.Result(time.Second)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, fut.Err(), boom)
	assert.False(t, fut.Cancelled())
}

func TestRuntime_Panic(t *testing.T) {
	rt := startRuntime(t)

	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	_, err = fut.Result(time.Second)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "kaboom")

	// The loop survives a panicking unit.
	fut, err = rt.Submit(func(ctx context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)
	got, err := fut.Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestRuntime_StopCancelsSuspendedWork(t *testing.T) {
	rt := New()
	require.NoError(t, rt.Start())
	<-rt.LoopReady()

	log := &eventLog{}
	started := make(chan struct{})
	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		log.add("start")
		defer log.add("end")
		close(started)
		err := Await(ctx, make(chan struct{}))
		if errors.Is(err, context.Canceled) {
			log.add("cancelled")
		}
		return nil, err
	})
	require.NoError(t, err)
	<-started

	rt.Join()

	assert.Equal(t, []string{"start", "cancelled", "end"}, log.all())
	assert.True(t, fut.IsDone())
	assert.True(t, fut.Cancelled())
	assert.ErrorIs(t, fut.Err(), ErrCancelled)
}

func TestFuture_Cancel(t *testing.T) {
	rt := startRuntime(t)

	started := make(chan struct{})
	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		close(started)
		if err := Await(ctx, make(chan struct{})); err != nil {
			return nil, errors.New("gave up: " + err.Error())
		}
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	assert.True(t, fut.Cancel())

	_, err = fut.Result(time.Second)
	// The unit wrapped the cancellation, so it does not count as cancelled.
	require.Error(t, err)
	assert.False(t, fut.Cancelled())
}

func TestFuture_CancelHidesWorkError(t *testing.T) {
	rt := startRuntime(t)

	started := make(chan struct{})
	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		close(started)
		err := Sleep(ctx, time.Hour)
		return "partial", err
	})
	require.NoError(t, err)
	<-started

	require.True(t, fut.Cancel())
	got, err := fut.Result(time.Second)

	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, fut.Cancelled())
	assert.ErrorIs(t, fut.Err(), ErrCancelled)
}

func TestFuture_SwallowedCancellation(t *testing.T) {
	rt := startRuntime(t)

	started := make(chan struct{})
	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		close(started)
		_ = Sleep(ctx, time.Hour)
		return "recovered", nil
	})
	require.NoError(t, err)
	<-started

	fut.Cancel()
	got, err := fut.Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.False(t, fut.Cancelled())
}

func TestFuture_CancelAfterDone(t *testing.T) {
	rt := startRuntime(t)

	fut, err := rt.Submit(func(ctx context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)
	_, err = fut.Result(time.Second)
	require.NoError(t, err)

	assert.False(t, fut.Cancel())
	assert.False(t, fut.Cancelled())
}

func TestFuture_ResultTimeout(t *testing.T) {
	rt := startRuntime(t)

	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		return nil, Sleep(ctx, time.Hour)
	})
	require.NoError(t, err)

	_, err = fut.Result(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, fut.IsDone())
	assert.Nil(t, fut.Err(), "pending futures report no error")
}

func TestFuture_WaitContext(t *testing.T) {
	rt := startRuntime(t)

	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		return nil, Sleep(ctx, time.Hour)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_DoneCallbackRunsOnLoop(t *testing.T) {
	rt := startRuntime(t)

	release := make(chan struct{})
	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		return "x", Await(ctx, release)
	})
	require.NoError(t, err)

	called := make(chan string, 1)
	fut.AddDoneCallback(func(f *Future[any]) {
		v, _ := f.Result(0)
		called <- v.(string)
	})
	close(release)

	select {
	case v := <-called:
		assert.Equal(t, "x", v)
	case <-time.After(time.Second):
		t.Fatal("done callback never ran")
	}
}

func TestFuture_DoneCallbackAfterCompletion(t *testing.T) {
	rt := startRuntime(t)

	fut, err := rt.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	_, err = fut.Result(time.Second)
	require.NoError(t, err)

	called := false
	fut.AddDoneCallback(func(*Future[any]) { called = true })
	assert.True(t, called, "callbacks added after completion run immediately")
}

func TestFuture_DoneCallbackPanicIsContained(t *testing.T) {
	rt := startRuntime(t)

	fut, err := rt.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	_, _ = fut.Result(time.Second)

	assert.NotPanics(t, func() {
		fut.AddDoneCallback(func(*Future[any]) { panic("callback") })
	})
}

func TestRuntime_UnitsNeverRunInParallel(t *testing.T) {
	rt := startRuntime(t)

	var active, overlap atomic.Int32
	var futs []*Future[any]
	for i := 0; i < 8; i++ {
		fut, err := rt.Submit(func(ctx context.Context) (any, error) {
			for j := 0; j < 50; j++ {
				if active.Add(1) > 1 {
					overlap.Add(1)
				}
				active.Add(-1)
				if err := Yield(ctx); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		require.NoError(t, err)
		futs = append(futs, fut)
	}

	for _, fut := range futs {
		_, err := fut.Result(5 * time.Second)
		require.NoError(t, err)
	}
	assert.Zero(t, overlap.Load())
}

func TestRuntime_SuspendedUnitsInterleave(t *testing.T) {
	rt := startRuntime(t)

	log := &eventLog{}
	aWaiting := make(chan struct{})
	resumeA := make(chan struct{})

	a, err := rt.Submit(func(ctx context.Context) (any, error) {
		log.add("a:start")
		close(aWaiting)
		if err := Await(ctx, resumeA); err != nil {
			return nil, err
		}
		log.add("a:end")
		return nil, nil
	})
	require.NoError(t, err)
	<-aWaiting

	b, err := rt.Submit(func(ctx context.Context) (any, error) {
		log.add("b")
		close(resumeA)
		return nil, nil
	})
	require.NoError(t, err)

	_, err = a.Result(time.Second)
	require.NoError(t, err)
	_, err = b.Result(time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"a:start", "b", "a:end"}, log.all())
}

func TestRuntime_StopFromInsideWork(t *testing.T) {
	rt := New()
	require.NoError(t, rt.Start())
	<-rt.LoopReady()

	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		Current(ctx).Stop()
		return "stopped", nil
	})
	require.NoError(t, err)

	select {
	case <-rt.Finished():
	case <-time.After(time.Second):
		t.Fatal("runtime did not stop")
	}
	got, err := fut.Result(0)
	require.NoError(t, err)
	assert.Equal(t, "stopped", got)
}

func TestWith(t *testing.T) {
	log := &eventLog{}
	boom := errors.New("boom")
	var rt *Runtime

	err := With(func(r *Runtime) error {
		rt = r
		<-r.LoopReady()
		log.add("start")
		_, err := r.Submit(func(ctx context.Context) (any, error) {
			defer log.add("work:end")
			return nil, Await(ctx, make(chan struct{}))
		})
		require.NoError(t, err)
		return boom
	}, WithName("scoped"))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateStopped, rt.State())
	assert.Equal(t, "scoped", rt.Name())
	assert.Equal(t, []string{"start", "work:end"}, log.all())
}

func TestCurrent(t *testing.T) {
	assert.Nil(t, Current(context.Background()))

	rt := startRuntime(t)
	fut, err := Go(rt, func(ctx context.Context) (*Runtime, error) {
		return Current(ctx), nil
	})
	require.NoError(t, err)
	got, err := fut.Result(time.Second)
	require.NoError(t, err)
	assert.Same(t, rt, got)
}

func TestSuspendOutsideRuntime(t *testing.T) {
	called := false
	err := Suspend(context.Background(), func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan struct{})
	close(ch)
	assert.ErrorIs(t, Await(ctx, ch), context.Canceled, "pending cancellation wins")
}

func TestSuspend_CancelledWhileSuspended(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Suspend(ctx, func() error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	rt := startRuntime(t)
	entered := make(chan struct{})
	proceed := make(chan struct{})
	suspendErr := make(chan error, 1)
	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
		err := Suspend(ctx, func() error {
			close(entered)
			<-proceed
			return nil
		})
		suspendErr <- err
		return nil, err
	})
	require.NoError(t, err)

	<-entered
	assert.True(t, fut.Cancel())
	close(proceed)

	assert.ErrorIs(t, <-suspendErr, context.Canceled)
	_, err = fut.Result(time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, fut.Cancelled())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "State(9)", State(9).String())
}

type recordingMetrics struct {
	mu        sync.Mutex
	submitted int
	outcomes  []Outcome
}

func (m *recordingMetrics) TaskSubmitted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
}

func (m *recordingMetrics) TaskFinished(_ string, o Outcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

func TestRuntime_Metrics(t *testing.T) {
	m := &recordingMetrics{}
	rt := New(WithMetrics(m))
	require.NoError(t, rt.Start())
	<-rt.LoopReady()

	ok, _ := rt.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	_, _ = ok.Result(time.Second)
	bad, _ := rt.Submit(func(ctx context.Context) (any, error) { return nil, errors.New("x") })
	_, _ = bad.Result(time.Second)
	rt.Join()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.submitted)
	assert.Equal(t, []Outcome{OutcomeOK, OutcomeError}, m.outcomes)
}
