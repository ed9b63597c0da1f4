package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/regsync/internal/app"
	"github.com/roach88/regsync/internal/config"
	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/directory/directorytest"
	"github.com/roach88/regsync/internal/engine"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/orchestrator"
	"github.com/roach88/regsync/internal/platform"
	"github.com/roach88/regsync/internal/store"
	"github.com/roach88/regsync/internal/testutil"
)

// Harness executes one scenario. It owns the store, the directory fake and
// the clock, which all survive restart steps.
type Harness struct {
	scenario *Scenario
	cfg      *config.Config
	store    *store.Store
	dir      *directorytest.Fake
	clock    *testutil.FakeClock
	tokens   *testutil.FixedTokenGenerator
	app      *app.App

	mu    sync.Mutex
	step  int
	trace []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// The clock starts at testutil.Epoch and only moves on advance steps.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		cfg:      scenarioConfig(scenario.Config),
		store:    st,
		dir:      directorytest.New(),
		clock:    testutil.NewFakeClock(testutil.Epoch),
		tokens:   testutil.NewFixedTokenGenerator("token"),
	}
	for op, responses := range scenario.Directory {
		for _, r := range responses {
			h.dir.Script(op, r.result())
		}
	}
	if err := h.boot(); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	h.app.Stop()
	result.Trace = h.Trace()
	final, err := h.app.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("read final state: %w", err)
	}
	result.Final = final

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// Trace returns a copy of the events recorded so far.
func (h *Harness) Trace() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent(nil), h.trace...)
}

func scenarioConfig(sc ScenarioConfig) *config.Config {
	cfg := config.Default()
	if sc.DeviceType != "" {
		cfg.Device.Type = sc.DeviceType
	}
	cfg.Device.AppVersion = "1.0.0"
	cfg.Device.DeviceID = "device-1"
	cfg.Device.OptIn = sc.OptIn
	cfg.Device.Alias = sc.Alias
	cfg.Device.SetTags = sc.SetTags
	cfg.Device.Tags = sc.Tags
	if sc.PlatformToken != "" {
		cfg.Platform.Enabled = true
		cfg.Platform.Token = sc.PlatformToken
	}
	cfg.Registration.ClearNamedUserOnReinstall = sc.ClearNamedUserOnReinstall
	return cfg
}

// boot builds a fresh App over the harness store, as a process start would.
func (h *Harness) boot() error {
	registrar := &recordingRegistrar{h: h, next: platform.NewStatic(h.cfg.Platform.Token)}
	a, err := app.New(h.cfg, h.store,
		app.WithDirectory(&recordingClient{h: h, next: h.dir}),
		app.WithRegistrar(registrar),
		app.WithClock(h.clock),
		app.WithAfterFunc(neverFire),
		app.WithTokens(h.tokens),
		app.WithObserver(orchestrator.ObserverFunc(h.finished)),
	)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	h.app = a
	return nil
}

func (h *Harness) execute(ctx context.Context, n int, step Step) error {
	h.mu.Lock()
	h.step = n
	h.mu.Unlock()

	kind := step.Kinds()[0]
	h.record(TraceEvent{Type: EventStep, Op: h.label(kind, step)})

	var err error
	switch kind {
	case StepStart:
		err = h.app.Start(ctx)

	case StepAdvance:
		d, perr := time.ParseDuration(step.Advance)
		if perr != nil {
			return perr
		}
		h.clock.Advance(d)

	case StepNamedUser:
		_, err = h.app.SetNamedUser(ctx, step.NamedUser)

	case StepClearNamedUser:
		_, err = h.app.ClearNamedUser(ctx)

	case StepTags:
		facet, perr := identity.ParseTagFacet(step.Tags.Facet)
		if perr != nil {
			return perr
		}
		err = h.app.EditTags(ctx, facet, step.Tags.Add, step.Tags.Remove)

	case StepEnqueue:
		action, perr := model.ParseAction(step.Enqueue)
		if perr != nil {
			return perr
		}
		err = h.app.Enqueue(ctx, action, nil, nil)

	case StepRestart:
		h.app.Stop()
		err = h.boot()
	}
	if err != nil {
		return err
	}

	h.app.Drain(ctx)
	return h.recordScheduled(ctx)
}

// label names a step in the trace.
func (h *Harness) label(kind string, step Step) string {
	switch kind {
	case StepAdvance:
		d, _ := time.ParseDuration(step.Advance)
		return fmt.Sprintf("advance %s (t=%s)", step.Advance, offset(h.clock.Elapsed()+d))
	case StepNamedUser:
		return "named_user " + step.NamedUser
	case StepTags:
		return "tags " + step.Tags.Facet
	case StepEnqueue:
		return "enqueue " + step.Enqueue
	}
	return kind
}

func (h *Harness) record(e TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.Step = h.step
	h.trace = append(h.trace, e)
}

// recordScheduled lists the retries still waiting after a step.
func (h *Harness) recordScheduled(ctx context.Context) error {
	rows, err := h.store.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled: %w", err)
	}
	for _, row := range rows {
		fields := map[string]string{"at": offset(row.FireAt.Sub(testutil.Epoch))}
		if row.Task.BackOff != nil {
			fields["backoff"] = row.Task.BackOff.String()
		}
		h.record(TraceEvent{Type: EventScheduled, Op: string(row.Task.Action), Fields: fields})
	}
	return nil
}

func (h *Harness) finished(_ context.Context, r orchestrator.Result) {
	fields := map[string]string{"status": strconv.Itoa(r.Status)}
	if r.ChannelID != "" {
		fields["channel"] = r.ChannelID
	}
	outcome := "rejected"
	if r.Success {
		outcome = "success"
	}
	h.record(TraceEvent{Type: EventFinished, Op: "registration", Fields: fields, Outcome: outcome})
}

func offset(d time.Duration) string {
	return "+" + d.String()
}

type noTimers struct{}

func (noTimers) Stop() bool { return true }

// neverFire keeps delayed tasks parked until an advance step drains them.
func neverFire(time.Duration, func()) engine.Stopper { return noTimers{} }

// recordingClient traces every directory call before passing the answer on.
type recordingClient struct {
	h    *Harness
	next directory.Client
}

func (c *recordingClient) trace(op string, fields map[string]string, resp directory.Response, err error) {
	outcome := strconv.Itoa(resp.Status)
	if err != nil {
		outcome = "transport error"
	}
	c.h.record(TraceEvent{Type: EventRequest, Op: op, Fields: fields, Outcome: outcome})
}

func payloadFields(p model.ChannelPayload) map[string]string {
	fields := map[string]string{"opt_in": strconv.FormatBool(p.OptIn)}
	if p.PushAddress != "" {
		fields["push_address"] = p.PushAddress
	}
	if p.Alias != "" {
		fields["alias"] = p.Alias
	}
	if p.SetTags {
		tags := append([]string(nil), p.Tags...)
		sort.Strings(tags)
		fields["tags"] = "[" + strings.Join(tags, ",") + "]"
	}
	return fields
}

func (c *recordingClient) CreateChannel(ctx context.Context, payload model.ChannelPayload) (directory.Response, error) {
	resp, err := c.next.CreateChannel(ctx, payload)
	fields := payloadFields(payload)
	if resp.ChannelID != "" {
		fields["channel"] = resp.ChannelID
	}
	c.trace(directorytest.OpCreateChannel, fields, resp, err)
	return resp, err
}

func (c *recordingClient) UpdateChannel(ctx context.Context, location string, payload model.ChannelPayload) (directory.Response, error) {
	resp, err := c.next.UpdateChannel(ctx, location, payload)
	fields := payloadFields(payload)
	fields["location"] = location
	c.trace(directorytest.OpUpdateChannel, fields, resp, err)
	return resp, err
}

func (c *recordingClient) AssociateNamedUser(ctx context.Context, namedUserID, channelID string) (directory.Response, error) {
	resp, err := c.next.AssociateNamedUser(ctx, namedUserID, channelID)
	c.trace(directorytest.OpAssociate, map[string]string{"named_user": namedUserID, "channel": channelID}, resp, err)
	return resp, err
}

func (c *recordingClient) DisassociateNamedUser(ctx context.Context, channelID string) (directory.Response, error) {
	resp, err := c.next.DisassociateNamedUser(ctx, channelID)
	c.trace(directorytest.OpDisassociate, map[string]string{"channel": channelID}, resp, err)
	return resp, err
}

func (c *recordingClient) UpdateTagGroups(ctx context.Context, owner directory.Owner, add, remove model.TagGroups) (directory.Response, error) {
	resp, err := c.next.UpdateTagGroups(ctx, owner, add, remove)
	op := directorytest.OpUpdateChannelTags
	if owner.Kind == directory.OwnerNamedUser {
		op = directorytest.OpUpdateNamedUserTags
	}
	fields := map[string]string{"owner": owner.ID}
	if !add.IsEmpty() {
		fields["add"] = formatGroups(add)
	}
	if !remove.IsEmpty() {
		fields["remove"] = formatGroups(remove)
	}
	c.trace(op, fields, resp, err)
	return resp, err
}

// formatGroups renders tag groups as group:[a,b];group2:[c] in key order.
func formatGroups(g model.TagGroups) string {
	groups := make([]string, 0, len(g))
	for name := range g {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	parts := make([]string, 0, len(groups))
	for _, name := range groups {
		tags := append([]string(nil), g[name]...)
		sort.Strings(tags)
		parts = append(parts, fmt.Sprintf("%s:[%s]", name, strings.Join(tags, ",")))
	}
	return strings.Join(parts, ";")
}

// recordingRegistrar traces platform token registrations.
type recordingRegistrar struct {
	h    *Harness
	next platform.Registrar
}

func (r *recordingRegistrar) Register(ctx context.Context, senderIDs []string) (string, error) {
	token, err := r.next.Register(ctx, senderIDs)
	outcome := "ok"
	switch {
	case errors.Is(err, platform.ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	r.h.record(TraceEvent{Type: EventPlatform, Op: "register", Outcome: outcome})
	return token, err
}
