package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/directory/directorytest"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/platform"
	"github.com/roach88/regsync/internal/store"
	"github.com/roach88/regsync/internal/store/badgerstore"
	"github.com/roach88/regsync/internal/testutil"
)

// fakeDispatcher records chained and delayed tasks instead of running them.
type fakeDispatcher struct {
	mu      sync.Mutex
	queue   []model.Task
	delayed []delayedTask
}

type delayedTask struct {
	task  model.Task
	delay time.Duration
}

func (d *fakeDispatcher) Enqueue(task model.Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, task)
	return true
}

func (d *fakeDispatcher) ScheduleDelayed(_ context.Context, task model.Task, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delayed = append(d.delayed, delayedTask{task: task, delay: delay})
	return nil
}

func (d *fakeDispatcher) Queued() []model.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Action, len(d.queue))
	for i, t := range d.queue {
		out[i] = t.Action
	}
	return out
}

func (d *fakeDispatcher) Delayed() []delayedTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delayedTask(nil), d.delayed...)
}

func (d *fakeDispatcher) pop() (model.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return model.Task{}, false
	}
	t := d.queue[0]
	d.queue = d.queue[1:]
	return t, true
}

// mockObserver records registration outcomes through testify/mock.
type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) RegistrationFinished(ctx context.Context, r Result) {
	m.Called(ctx, r)
}

// mockRegistrar stands in for the platform token service.
type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) Register(ctx context.Context, senderIDs []string) (string, error) {
	args := m.Called(ctx, senderIDs)
	return args.String(0), args.Error(1)
}

type fixture struct {
	t         *testing.T
	cfg       Config
	registrar platform.Registrar
	wrap      func(*fixture) directory.Client

	state    *identity.State
	dir      *directorytest.Fake
	disp     *fakeDispatcher
	clock    *testutil.FakeClock
	results  []Result
	o        *Orchestrator
	observer Observer
}

type fixtureOption func(*fixture)

func withConfig(cfg Config) fixtureOption {
	return func(f *fixture) { f.cfg = cfg }
}

func withRegistrar(r platform.Registrar) fixtureOption {
	return func(f *fixture) { f.registrar = r }
}

func withClient(wrap func(*fixture) directory.Client) fixtureOption {
	return func(f *fixture) { f.wrap = wrap }
}

func withObserver(obs Observer) fixtureOption {
	return func(f *fixture) { f.observer = obs }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	kv, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	f := &fixture{
		t:     t,
		cfg:   Config{DeviceType: "android"},
		state: identity.New(kv, testutil.NewFixedTokenGenerator("nu")),
		dir:   directorytest.New(),
		disp:  &fakeDispatcher{},
		clock: testutil.NewFakeClock(testutil.Epoch),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.restart()
	return f
}

// restart builds a fresh orchestrator over the same state, as after a
// process restart: backoff counters and the in-flight flag start empty.
func (f *fixture) restart() {
	var client directory.Client = f.dir
	if f.wrap != nil {
		client = f.wrap(f)
	}
	observer := f.observer
	if observer == nil {
		observer = ObserverFunc(func(_ context.Context, r Result) {
			f.results = append(f.results, r)
		})
	}
	f.o = New(f.cfg, f.state, client, f.registrar, f.disp,
		WithClock(f.clock),
		WithBackoff(backoff.NewCounters(backoff.DefaultPolicy())),
		WithObserver(observer),
	)
}

func (f *fixture) handle(task model.Task) {
	f.t.Helper()
	require.NoError(f.t, f.o.Handle(context.Background(), task))
}

func (f *fixture) handleAction(a model.Action) {
	f.t.Helper()
	f.handle(model.NewTask(a))
}

// drain handles chained tasks until none are left and returns their
// actions in order.
func (f *fixture) drain() []model.Action {
	f.t.Helper()
	var seen []model.Action
	for {
		task, ok := f.disp.pop()
		if !ok {
			return seen
		}
		seen = append(seen, task.Action)
		f.handle(task)
	}
}

// recordChannel stores an existing channel whose snapshot payload differs
// from what the fixture would send, so the next registration goes out.
func (f *fixture) recordChannel(id string) identity.Channel {
	f.t.Helper()
	ch := identity.Channel{ID: id, Location: "https://x/" + id}
	snap := identity.Snapshot{Payload: model.ChannelPayload{DeviceType: "stale"}, At: f.clock.Now()}
	require.NoError(f.t, f.state.RecordChannel(context.Background(), ch, snap))
	return ch
}

func (f *fixture) ops() []string {
	var out []string
	for _, c := range f.dir.Calls() {
		out = append(out, c.Op)
	}
	return out
}

func newTaskStore(t *testing.T) store.TaskStore {
	t.Helper()
	ts, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })
	return ts
}
