package eventloop

import "time"

// Outcome labels how a unit of work finished.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePanic     Outcome = "panic"
)

// Metrics receives runtime instrumentation.
type Metrics interface {
	TaskSubmitted(runtime string)
	TaskFinished(runtime string, outcome Outcome, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) TaskSubmitted(string)                        {}
func (nopMetrics) TaskFinished(string, Outcome, time.Duration) {}
