package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/engine"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/platform"
	"github.com/roach88/regsync/internal/telemetry"
)

// DefaultReregistrationInterval is how old the registration snapshot may get
// before an unchanged payload is sent again.
const DefaultReregistrationInterval = 24 * time.Hour

// Dispatcher is the part of the engine the orchestrator chains work through.
// *engine.Scheduler implements it.
type Dispatcher interface {
	Enqueue(task model.Task) bool
	ScheduleDelayed(ctx context.Context, task model.Task, delay time.Duration) error
}

var _ Dispatcher = (*engine.Scheduler)(nil)

// Config holds the static inputs of the state machine.
type Config struct {
	// DeviceType is sent in every channel payload ("android", "amazon", ...).
	DeviceType string

	// ClearNamedUserOnReinstall disassociates the named user when a create
	// returns 200 (the channel already existed) and no id is set locally.
	ClearNamedUserOnReinstall bool

	// ReregistrationInterval defaults to DefaultReregistrationInterval.
	ReregistrationInterval time.Duration

	// Platform decides whether platform token registration may run.
	Platform platform.Policy

	// Fingerprint is what the stored platform registration is compared
	// against to detect a stale token.
	Fingerprint platform.Fingerprint
}

// Orchestrator is the registration state machine. It implements
// engine.Handler and engine.FailureHandler.
type Orchestrator struct {
	cfg       Config
	state     *identity.State
	directory directory.Client
	registrar platform.Registrar
	dispatch  Dispatcher
	backoff   *backoff.Counters
	clock     engine.Clock
	metrics   *telemetry.Metrics
	observer  Observer

	// registering is set while a platform token registration is
	// outstanding, from the Register call until platform-registration-finished
	// is handled.
	registering bool

	// deltaStored is set once the current tag task's delta has been merged
	// into the stored pending delta. A retry after that point must not
	// carry the delta again.
	deltaStored bool
}

var (
	_ engine.Handler        = (*Orchestrator)(nil)
	_ engine.FailureHandler = (*Orchestrator)(nil)
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the wall clock used for snapshot timestamps.
func WithClock(c engine.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithBackoff replaces the default backoff counters.
func WithBackoff(c *backoff.Counters) Option {
	return func(o *Orchestrator) { o.backoff = c }
}

// WithMetrics records retries and backoff values in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver adds an observer for registration outcomes. May be given
// more than once.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if o.observer == nil {
			o.observer = obs
			return
		}
		if m, ok := o.observer.(multiObserver); ok {
			o.observer = append(m, obs)
			return
		}
		o.observer = multiObserver{o.observer, obs}
	}
}

// New creates an Orchestrator.
func New(cfg Config, state *identity.State, dir directory.Client, reg platform.Registrar, dispatch Dispatcher, opts ...Option) *Orchestrator {
	if cfg.ReregistrationInterval <= 0 {
		cfg.ReregistrationInterval = DefaultReregistrationInterval
	}
	o := &Orchestrator{
		cfg:       cfg,
		state:     state,
		directory: dir,
		registrar: reg,
		dispatch:  dispatch,
		clock:     engine.SystemClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.backoff == nil {
		o.backoff = backoff.NewCounters(backoff.DefaultPolicy())
	}
	if o.observer == nil {
		o.observer = LogObserver{}
	}
	return o
}

// Backoff returns the current delay for f. Zero means the last attempt
// succeeded or was rejected.
func (o *Orchestrator) Backoff(f backoff.Facet) time.Duration {
	return o.backoff.Get(f)
}

// Registering reports whether a platform token registration is outstanding.
func (o *Orchestrator) Registering() bool {
	return o.registering
}

// Handle dispatches one task to its handler.
func (o *Orchestrator) Handle(ctx context.Context, task model.Task) error {
	o.deltaStored = false
	switch task.Action {
	case model.ActionStartPlatformRegistration:
		return o.startRegistration(ctx)
	case model.ActionPlatformRegistrationFinished:
		o.registering = false
		return o.performChannelRegistration(ctx)
	case model.ActionUpdateRegistration:
		if o.registering {
			slog.Debug("platform registration in progress, skipping registration update")
			return nil
		}
		return o.performChannelRegistration(ctx)
	case model.ActionRetryPlatformRegistration:
		o.restore(backoff.PlatformRegistration, task)
		return o.startRegistration(ctx)
	case model.ActionRetryChannelRegistration:
		o.restore(backoff.ChannelRegistration, task)
		return o.performChannelRegistration(ctx)
	case model.ActionUpdateNamedUser:
		return o.updateNamedUser(ctx)
	case model.ActionRetryUpdateNamedUser:
		o.restore(backoff.NamedUser, task)
		return o.updateNamedUser(ctx)
	case model.ActionUpdateChannelTagGroups:
		return o.updateTagGroups(ctx, channelTags, task)
	case model.ActionRetryUpdateChannelTagGroups:
		o.restore(backoff.ChannelTags, task)
		return o.updateTagGroups(ctx, channelTags, task)
	case model.ActionUpdateNamedUserTags:
		return o.updateTagGroups(ctx, namedUserTags, task)
	case model.ActionRetryUpdateNamedUserTags:
		o.restore(backoff.NamedUserTags, task)
		return o.updateTagGroups(ctx, namedUserTags, task)
	case model.ActionClearPendingNamedUserTags:
		return o.state.ClearPendingTags(ctx, identity.NamedUserTags)
	default:
		return fmt.Errorf("%w: %q", model.ErrUnknownAction, task.Action)
	}
}

// OnTaskFailure treats a handler error or panic like a transient failure of
// the facet the task belongs to and schedules its retry. A tag task keeps
// its delta on the retry only when the failure came before the delta was
// stored; replaying a stored delta later could undo a newer edit.
func (o *Orchestrator) OnTaskFailure(ctx context.Context, task model.Task, err error) {
	retry, facet, ok := retryFor(task.Action)
	if !ok {
		slog.Warn("no retry for failed task", "action", task.Action, "error", err)
		return
	}
	if facet == backoff.PlatformRegistration {
		o.registering = false
	}
	next := model.NewRetryTask(retry, 0)
	if !o.deltaStored {
		next.Add, next.Remove = task.Add, task.Remove
	}
	o.scheduleRetry(ctx, facet, next)
}

// retryFor maps an action to the retry action and backoff facet that
// cover it.
func retryFor(a model.Action) (model.Action, backoff.Facet, bool) {
	switch a {
	case model.ActionStartPlatformRegistration, model.ActionRetryPlatformRegistration:
		return model.ActionRetryPlatformRegistration, backoff.PlatformRegistration, true
	case model.ActionPlatformRegistrationFinished, model.ActionUpdateRegistration, model.ActionRetryChannelRegistration:
		return model.ActionRetryChannelRegistration, backoff.ChannelRegistration, true
	case model.ActionUpdateNamedUser, model.ActionRetryUpdateNamedUser:
		return model.ActionRetryUpdateNamedUser, backoff.NamedUser, true
	case model.ActionUpdateChannelTagGroups, model.ActionRetryUpdateChannelTagGroups:
		return model.ActionRetryUpdateChannelTagGroups, backoff.ChannelTags, true
	case model.ActionUpdateNamedUserTags, model.ActionRetryUpdateNamedUserTags:
		return model.ActionRetryUpdateNamedUserTags, backoff.NamedUserTags, true
	}
	return "", 0, false
}

// restore loads the backoff a retry task carried, so the counter survives a
// process restart between scheduling and firing.
func (o *Orchestrator) restore(f backoff.Facet, task model.Task) {
	if task.BackOff == nil {
		return
	}
	o.backoff.Restore(f, *task.BackOff)
	o.metrics.SetBackoff(f.String(), o.backoff.Get(f))
}

// scheduleRetry advances the facet's backoff and schedules task after the
// new delay. The task's BackOff is overwritten with that delay.
func (o *Orchestrator) scheduleRetry(ctx context.Context, f backoff.Facet, task model.Task) {
	delay := o.backoff.Fail(f)
	task.BackOff = &delay

	o.metrics.SetBackoff(f.String(), delay)
	o.metrics.RetryScheduled(f.String())

	if err := o.dispatch.ScheduleDelayed(ctx, task, delay); err != nil {
		slog.Error("schedule retry failed", "action", task.Action, "backoff", delay, "error", err)
		return
	}
	slog.Info("retry scheduled", "action", task.Action, "facet", f.String(), "backoff", delay)
}

// resetBackoff clears the facet's delay after a success or rejection.
func (o *Orchestrator) resetBackoff(f backoff.Facet) {
	o.backoff.Reset(f)
	o.metrics.SetBackoff(f.String(), 0)
}

// chain enqueues a follow-up task.
func (o *Orchestrator) chain(a model.Action) {
	if !o.dispatch.Enqueue(model.NewTask(a)) {
		slog.Warn("follow-up task dropped, scheduler stopped", "action", a)
	}
}

func (o *Orchestrator) notify(ctx context.Context, r Result) {
	o.observer.RegistrationFinished(ctx, r)
}
