// Package metrics exports runtime and chat instrumentation to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/ollamakit/chat"
	"github.com/vinayprograms/ollamakit/eventloop"
	"github.com/vinayprograms/ollamakit/logging"
)

// Namespace prefixes every collector.
const Namespace = "ollamakit"

// Collector records eventloop and chat events.
type Collector struct {
	taskSubmitted    *prom.CounterVec
	taskFinished     *prom.CounterVec
	taskDuration     *prom.HistogramVec
	exchanges        *prom.CounterVec
	exchangeDuration *prom.HistogramVec
}

var (
	_ eventloop.Metrics = (*Collector)(nil)
	_ chat.Metrics      = (*Collector)(nil)
)

// NewCollector creates the collectors and registers them with reg, or the
// default registerer when reg is nil. Registering twice reuses the
// collectors already present.
func NewCollector(reg prom.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	submitted := prom.NewCounterVec(prom.CounterOpts{
		Namespace: Namespace,
		Name:      "task_submitted_total",
		Help:      "Units of work submitted to a runtime.",
	}, []string{"runtime"})
	finished := prom.NewCounterVec(prom.CounterOpts{
		Namespace: Namespace,
		Name:      "task_finished_total",
		Help:      "Units of work finished, by outcome.",
	}, []string{"runtime", "outcome"})
	taskDuration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: Namespace,
		Name:      "task_duration_seconds",
		Help:      "Time from submission to completion of a unit of work.",
		Buckets:   prom.DefBuckets,
	}, []string{"runtime"})
	exchanges := prom.NewCounterVec(prom.CounterOpts{
		Namespace: Namespace,
		Name:      "chat_exchanges_total",
		Help:      "Chat exchanges, by model and outcome.",
	}, []string{"model", "outcome"})
	exchangeDuration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: Namespace,
		Name:      "chat_exchange_duration_seconds",
		Help:      "Chat exchange duration in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"model"})

	var err error
	if submitted, err = registerCollector(reg, submitted); err != nil {
		return nil, err
	}
	if finished, err = registerCollector(reg, finished); err != nil {
		return nil, err
	}
	if taskDuration, err = registerCollector(reg, taskDuration); err != nil {
		return nil, err
	}
	if exchanges, err = registerCollector(reg, exchanges); err != nil {
		return nil, err
	}
	if exchangeDuration, err = registerCollector(reg, exchangeDuration); err != nil {
		return nil, err
	}

	return &Collector{
		taskSubmitted:    submitted,
		taskFinished:     finished,
		taskDuration:     taskDuration,
		exchanges:        exchanges,
		exchangeDuration: exchangeDuration,
	}, nil
}

// TaskSubmitted implements eventloop.Metrics.
func (c *Collector) TaskSubmitted(runtime string) {
	if c == nil {
		return
	}
	c.taskSubmitted.WithLabelValues(normalizeLabel(runtime)).Inc()
}

// TaskFinished implements eventloop.Metrics.
func (c *Collector) TaskFinished(runtime string, outcome eventloop.Outcome, elapsed time.Duration) {
	if c == nil {
		return
	}
	runtime = normalizeLabel(runtime)
	c.taskFinished.WithLabelValues(runtime, normalizeLabel(string(outcome))).Inc()
	c.taskDuration.WithLabelValues(runtime).Observe(elapsed.Seconds())
}

// ExchangeFinished implements chat.Metrics.
func (c *Collector) ExchangeFinished(model string, outcome chat.Outcome, elapsed time.Duration) {
	if c == nil {
		return
	}
	model = normalizeLabel(model)
	c.exchanges.WithLabelValues(model, normalizeLabel(string(outcome))).Inc()
	c.exchangeDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g, or the default gatherer when
// g is nil.
func Handler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Server serves /metrics until shut down.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve listens on addr and serves g's metrics at /metrics in the
// background. A serve failure other than a shutdown is logged to logger,
// which may be nil.
func Serve(addr string, g prom.Gatherer, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("metrics")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_serve_failed", map[string]interface{}{
				"address": ln.Addr().String(),
				"error":   err.Error(),
			})
		}
	}()
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for scrapes in progress.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
