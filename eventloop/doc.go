// Package eventloop runs asynchronous work behind a synchronous API.
//
// A Runtime owns one worker goroutine and a cooperative scheduler. Any
// goroutine may submit work; the runtime returns a Future the caller can
// wait on, cancel or attach done callbacks to. Units of work never run in
// parallel with each other. They interleave at suspension points:
//
//	rt := eventloop.New(eventloop.WithName("chat"))
//	if err := rt.Start(); err != nil {
//	    return err
//	}
//	defer rt.Close()
//	<-rt.LoopReady()
//
//	fut, err := rt.Submit(func(ctx context.Context) (any, error) {
//	    if err := eventloop.Sleep(ctx, time.Second); err != nil {
//	        return nil, err
//	    }
//	    return "done", nil
//	})
//
// # Cancellation
//
// Cancellation travels through the unit's context. Future.Cancel and runtime
// shutdown both cancel it; the next suspension point returns
// context.Canceled and deferred cleanup runs as usual. A unit that returns
// that error resolves its future as cancelled, and Err reports ErrCancelled
// instead of anything the unit produced.
//
// # Shutdown
//
// Stop asks the loop to exit; Join waits for it. On exit every outstanding
// unit is cancelled and the worker waits for all of them to unwind, so a
// unit that never suspends keeps the runtime alive.
package eventloop
