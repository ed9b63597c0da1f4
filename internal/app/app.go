package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/config"
	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/engine"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/orchestrator"
	"github.com/roach88/regsync/internal/platform"
	"github.com/roach88/regsync/internal/store"
	"github.com/roach88/regsync/internal/store/badgerstore"
	"github.com/roach88/regsync/internal/telemetry"
)

// OpenStore opens the backend named in cfg.
func OpenStore(cfg config.DatabaseConfig) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		s, err := store.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.BackendBadger:
		s, err := badgerstore.Open(badgerstore.DefaultConfig(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
}

// App is a running regsync instance.
type App struct {
	*Control

	cfg      *config.Config
	backend  store.Backend
	sched    *engine.Scheduler
	orch     *orchestrator.Orchestrator
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	clock    engine.Clock
}

type options struct {
	client    directory.Client
	registrar platform.Registrar
	clock     engine.Clock
	afterFunc engine.AfterFunc
	keepalive engine.Keepalive
	tokens    identity.TokenGenerator
	observers []orchestrator.Observer
	registry  *prometheus.Registry
}

// Option configures an App.
type Option func(*options)

// WithDirectory replaces the HTTP directory client.
func WithDirectory(c directory.Client) Option {
	return func(o *options) { o.client = c }
}

// WithRegistrar replaces the static platform registrar.
func WithRegistrar(r platform.Registrar) Option {
	return func(o *options) { o.registrar = r }
}

// WithClock sets the wall clock for the scheduler and orchestrator.
func WithClock(c engine.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithAfterFunc replaces the scheduler's timer function.
func WithAfterFunc(f engine.AfterFunc) Option {
	return func(o *options) { o.afterFunc = f }
}

// WithKeepalive replaces the default keepalive hold.
func WithKeepalive(k engine.Keepalive) Option {
	return func(o *options) { o.keepalive = k }
}

// WithTokens sets the named-user change token generator.
func WithTokens(g identity.TokenGenerator) Option {
	return func(o *options) { o.tokens = g }
}

// WithObserver adds a registration observer.
func WithObserver(obs orchestrator.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithRegistry registers metrics in reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New wires an App over backend. The caller owns backend and closes it
// after the App stops.
func New(cfg *config.Config, backend store.Backend, opts ...Option) (*App, error) {
	o := options{clock: engine.SystemClock{}, tokens: identity.UUIDv7Tokens{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	metrics := telemetry.New(o.registry)

	client := o.client
	if client == nil {
		if cfg.Directory.BaseURL == "" {
			return nil, errors.New("directory.base_url is required")
		}
		httpClient, err := directory.NewHTTPClient(directory.HTTPConfig{
			BaseURL:    cfg.Directory.BaseURL,
			AppKey:     cfg.Directory.AppKey,
			AppSecret:  cfg.Directory.AppSecret,
			DeviceType: cfg.Device.Type,
			UserAgent:  cfg.Directory.UserAgent,
			Timeout:    cfg.Directory.Timeout,
		})
		if err != nil {
			return nil, err
		}
		client = httpClient
	}
	client = telemetry.InstrumentDirectory(client, metrics)

	registrar := o.registrar
	if registrar == nil {
		registrar = platform.NewStatic(cfg.Platform.Token)
	}

	keepalive := o.keepalive
	if keepalive == nil {
		keepalive = engine.NewHold(cfg.Scheduler.KeepaliveTimeout)
	}
	schedOpts := []engine.Option{
		engine.WithClock(o.clock),
		engine.WithKeepalive(keepalive),
		engine.WithMetrics(metrics),
		engine.WithPollInterval(cfg.Scheduler.PollInterval),
	}
	if o.afterFunc != nil {
		schedOpts = append(schedOpts, engine.WithAfterFunc(o.afterFunc))
	}
	sched := engine.New(backend, schedOpts...)

	state := identity.New(backend, o.tokens)

	orchOpts := []orchestrator.Option{
		orchestrator.WithClock(o.clock),
		orchestrator.WithBackoff(backoff.NewCounters(cfg.BackoffPolicy())),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithObserver(orchestrator.LogObserver{}),
	}
	for _, obs := range o.observers {
		orchOpts = append(orchOpts, orchestrator.WithObserver(obs))
	}
	orch := orchestrator.New(orchestrator.Config{
		DeviceType:                cfg.Device.Type,
		ClearNamedUserOnReinstall: cfg.Registration.ClearNamedUserOnReinstall,
		ReregistrationInterval:    cfg.Registration.Interval,
		Platform: platform.Policy{
			Enabled:           cfg.Platform.Enabled,
			Transport:         cfg.Platform.Transport,
			AllowedTransports: cfg.Platform.AllowedTransports,
		},
		Fingerprint: platform.Fingerprint{
			AppVersion: cfg.Device.AppVersion,
			DeviceID:   cfg.Device.DeviceID,
			SenderIDs:  cfg.Platform.SenderIDs,
			Transport:  cfg.Platform.Transport,
		},
	}, state, client, registrar, sched, orchOpts...)

	return &App{
		Control:  NewControl(state, backend, QueueSubmitter{Scheduler: sched}, o.clock),
		cfg:      cfg,
		backend:  backend,
		sched:    sched,
		orch:     orch,
		registry: o.registry,
		metrics:  metrics,
		clock:    o.clock,
	}, nil
}

// Registry returns the Prometheus registry holding the App's metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Scheduler returns the task scheduler.
func (a *App) Scheduler() *engine.Scheduler {
	return a.sched
}

// Orchestrator returns the registration state machine.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Start stores the configured device settings and enqueues the app-start
// registration. Run calls it; one-shot drivers call it before Drain.
func (a *App) Start(ctx context.Context) error {
	if err := a.state.SetSettings(ctx, a.cfg.DeviceSettings()); err != nil {
		return fmt.Errorf("store device settings: %w", err)
	}
	if !a.sched.Enqueue(model.NewTask(model.ActionStartPlatformRegistration)) {
		return ErrStopped
	}
	return nil
}

// Run starts the App and processes tasks until ctx is cancelled or Stop is
// called. Every registration interval an update-registration task is
// enqueued so the snapshot is refreshed even without local changes.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.reregisterLoop(loopCtx, a.cfg.Registration.Interval)

	return a.sched.Run(ctx, a.orch)
}

// Drain processes due and queued tasks until the queue is empty.
func (a *App) Drain(ctx context.Context) int {
	return a.sched.Drain(ctx, a.orch)
}

// Stop makes Run return.
func (a *App) Stop() {
	a.sched.Stop()
}

// Status extends Control.Status with the in-memory backoff counters.
func (a *App) Status(ctx context.Context) (Status, error) {
	st, err := a.Control.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	for _, f := range backoff.Facets {
		if d := a.orch.Backoff(f); d > 0 {
			if st.Backoff == nil {
				st.Backoff = make(map[string]string)
			}
			st.Backoff[f.String()] = d.String()
		}
	}
	return st, nil
}

func (a *App) reregisterLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Debug("periodic re-registration")
			if !a.sched.Enqueue(model.NewTask(model.ActionUpdateRegistration)) {
				return
			}
		}
	}
}
