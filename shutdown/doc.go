// Package shutdown tears an application down in ordered phases.
//
// Handlers register under a phase number. Shutdown runs the phases in
// ascending order; handlers within one phase run concurrently. For
// ollamachat the phases are: cancel exchanges in flight, close
// installations, join runtimes, close storage, stop telemetry.
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.RegisterFunc("session", shutdown.PhaseExchanges, func(ctx context.Context) error {
//	    session.Cancel()
//	    return nil
//	})
//	coord.RegisterWithPhase("transcript", shutdown.Closer(store), shutdown.PhaseStorage)
//	defer coord.ShutdownWithTimeout(0)
//
// A shutdown happens once. Its outcome, including per-handler timings, is
// available from Result after Done is closed.
package shutdown
