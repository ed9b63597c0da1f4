package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
	"github.com/roach88/regsync/internal/testutil"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// manualTimers records armed timers and fires them only on request.
type manualTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

type manualStopper struct{}

func (manualStopper) Stop() bool { return true }

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, f)
	return manualStopper{}
}

func (m *manualTimers) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}

func (m *manualTimers) FireLast() {
	m.mu.Lock()
	f := m.fns[len(m.fns)-1]
	m.mu.Unlock()
	f()
}

// recorder is a Handler that records the actions it sees.
type recorder struct {
	mu      sync.Mutex
	actions []model.Action
	tasks   []model.Task
	fn      func(ctx context.Context, task model.Task) error
}

func (r *recorder) Handle(ctx context.Context, task model.Task) error {
	r.mu.Lock()
	r.actions = append(r.actions, task.Action)
	r.tasks = append(r.tasks, task)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, task)
	}
	return nil
}

func (r *recorder) Actions() []model.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Action(nil), r.actions...)
}

func (r *recorder) Tasks() []model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Task(nil), r.tasks...)
}

// failureRecorder also implements FailureHandler.
type failureRecorder struct {
	recorder
	failures []error
}

func (r *failureRecorder) OnTaskFailure(_ context.Context, _ model.Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

type fixture struct {
	sched      *Scheduler
	clock      *testutil.FakeClock
	timers     *manualTimers
	hold       *Hold
	holdTimers *manualTimers
}

func newFixture(t *testing.T, ts store.TaskStore) *fixture {
	t.Helper()
	f := &fixture{
		clock:      testutil.NewFakeClock(testutil.Epoch),
		timers:     &manualTimers{},
		holdTimers: &manualTimers{},
	}
	f.hold = &Hold{timeout: DefaultKeepaliveTimeout, afterFunc: f.holdTimers.AfterFunc}
	f.sched = New(ts,
		WithClock(f.clock),
		WithAfterFunc(f.timers.AfterFunc),
		WithKeepalive(f.hold),
		WithPollInterval(10*time.Millisecond),
	)
	return f
}
