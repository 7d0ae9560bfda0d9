package main

import (
	"context"
	"fmt"
	"io"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vinayprograms/ollamakit/chat"
	"github.com/vinayprograms/ollamakit/config"
	"github.com/vinayprograms/ollamakit/eventloop"
	"github.com/vinayprograms/ollamakit/installable"
	"github.com/vinayprograms/ollamakit/logging"
	"github.com/vinayprograms/ollamakit/metrics"
	"github.com/vinayprograms/ollamakit/ollama"
	"github.com/vinayprograms/ollamakit/shutdown"
	"github.com/vinayprograms/ollamakit/telemetry"
	"github.com/vinayprograms/ollamakit/transcript"
)

// app owns everything a command needs: the loop, the installed client and
// the optional archive and telemetry. Components are released in phases by
// the shutdown coordinator.
type app struct {
	settings *config.Settings
	logger   *logging.Logger
	coord    *shutdown.Coordinator

	rt        *eventloop.Runtime
	client    *ollama.Client
	streamer  chat.Streamer
	collector *metrics.Collector
	archive   *transcript.Store
	tracer    *telemetry.Tracer
}

// newApp starts the runtime and installs the Ollama client. Logs go to out.
func newApp(ctx context.Context, s *config.Settings, out io.Writer) (*app, error) {
	logger := logging.New()
	logger.SetOutput(out)
	logger.SetLevel(s.Level())

	a := &app{
		settings: s,
		logger:   logger,
		coord:    shutdown.NewCoordinator(shutdown.DefaultConfig(), logger),
		tracer:   telemetry.GetTracer(),
	}
	if err := a.startTelemetry(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.startRuntime(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) startTelemetry(ctx context.Context) error {
	s := a.settings

	if s.Tracing.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    "ollamachat",
			ServiceVersion: Version,
			Endpoint:       s.Tracing.Endpoint,
			Protocol:       s.Tracing.Protocol,
			Insecure:       s.Tracing.Insecure,
			Debug:          s.Tracing.Debug,
		})
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		a.tracer = provider.Tracer()
		a.coord.RegisterWithPhase("tracing", shutdown.HandlerFunc(provider.Shutdown), shutdown.PhaseTelemetry)
	}

	if s.Metrics.Address != "" {
		reg := prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		collector, err := metrics.NewCollector(reg)
		if err != nil {
			return err
		}
		srv, err := metrics.Serve(s.Metrics.Address, reg, a.logger)
		if err != nil {
			return err
		}
		a.collector = collector
		a.coord.RegisterWithPhase("metrics", shutdown.HandlerFunc(srv.Shutdown), shutdown.PhaseTelemetry)
		a.logger.Lifecycle("metrics_serving", map[string]interface{}{"address": srv.Addr()})
	}
	return nil
}

func (a *app) startRuntime() error {
	s := a.settings

	opts := []eventloop.Option{
		eventloop.WithName("ollamachat"),
		eventloop.WithLogger(a.logger),
	}
	if a.collector != nil {
		opts = append(opts, eventloop.WithMetrics(a.collector))
	}
	a.rt = eventloop.New(opts...)
	if err := a.rt.Start(); err != nil {
		return err
	}
	a.coord.RegisterFunc("runtime", shutdown.PhaseRuntime, func(ctx context.Context) error {
		go a.rt.Join()
		select {
		case <-a.rt.Finished():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	<-a.rt.LoopReady()

	a.client = ollama.NewClient(
		ollama.WithTimeout(s.Timeouts.Connect.Duration),
		ollama.WithLogger(a.logger),
	)
	installer := installable.New(a.client,
		installable.WithName("ollama-client"),
		installable.WithReadyTimeout(s.Timeouts.Ready.Duration),
		installable.WithStopTimeout(s.Timeouts.Stop.Duration),
		installable.WithLogger(a.logger),
	)
	inst, err := installer.Install(a.rt)
	if err != nil {
		return err
	}
	a.coord.RegisterWithPhase("ollama-client", shutdown.Closer(inst), shutdown.PhaseResources)

	a.streamer = a.client
	if s.Dialect == config.DialectOpenAI {
		a.streamer = ollama.NewOpenAIClient(a.client)
	}
	return nil
}

// openArchive opens the transcript index configured in the settings.
func (a *app) openArchive() (*transcript.Store, error) {
	if a.archive != nil {
		return a.archive, nil
	}
	store, err := transcript.Open(a.settings.Transcript.Path)
	if err != nil {
		return nil, err
	}
	a.archive = store
	a.coord.RegisterWithPhase("transcript", shutdown.Closer(store), shutdown.PhaseStorage)
	return store, nil
}

// newSession creates a chat session on the app's runtime.
func (a *app) newSession(opts ...chat.SessionOption) *chat.Session {
	base := []chat.SessionOption{
		chat.WithAddress(a.settings.Address),
		chat.WithModel(a.settings.Model),
		chat.WithSystemPrompt(a.settings.SystemPrompt),
		chat.WithLogger(a.logger),
		chat.WithTracer(a.tracer),
	}
	if a.collector != nil {
		base = append(base, chat.WithMetrics(a.collector))
	}
	if a.archive != nil {
		base = append(base, chat.WithArchive(a.archive))
	}
	session := chat.NewSession(a.rt, a.streamer, append(base, opts...)...)
	a.coord.RegisterFunc("session", shutdown.PhaseExchanges, func(context.Context) error {
		session.Cancel()
		return nil
	})
	return session
}

// close releases everything in phase order.
func (a *app) close() error {
	return a.coord.ShutdownWithTimeout(0)
}
