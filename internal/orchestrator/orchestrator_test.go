package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/directory/directorytest"
	"github.com/roach88/regsync/internal/engine"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

func TestHandle_UnknownAction(t *testing.T) {
	f := newFixture(t)
	err := f.o.Handle(context.Background(), model.NewTask("reboot"))
	require.ErrorIs(t, err, model.ErrUnknownAction)
}

func TestHandle_EveryActionIsHandled(t *testing.T) {
	f := newFixture(t)
	for _, a := range model.Actions {
		err := f.o.Handle(context.Background(), model.NewTask(a))
		assert.NotErrorIs(t, err, model.ErrUnknownAction, "action %s", a)
	}
}

func TestOnTaskFailure_SchedulesFacetRetry(t *testing.T) {
	tests := []struct {
		action model.Action
		retry  model.Action
		facet  backoff.Facet
	}{
		{model.ActionStartPlatformRegistration, model.ActionRetryPlatformRegistration, backoff.PlatformRegistration},
		{model.ActionPlatformRegistrationFinished, model.ActionRetryChannelRegistration, backoff.ChannelRegistration},
		{model.ActionUpdateRegistration, model.ActionRetryChannelRegistration, backoff.ChannelRegistration},
		{model.ActionRetryUpdateNamedUser, model.ActionRetryUpdateNamedUser, backoff.NamedUser},
		{model.ActionUpdateChannelTagGroups, model.ActionRetryUpdateChannelTagGroups, backoff.ChannelTags},
		{model.ActionUpdateNamedUserTags, model.ActionRetryUpdateNamedUserTags, backoff.NamedUserTags},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			f := newFixture(t)
			f.o.OnTaskFailure(context.Background(), model.NewTask(tt.action), errors.New("disk I/O error"))

			delayed := f.disp.Delayed()
			require.Len(t, delayed, 1)
			assert.Equal(t, tt.retry, delayed[0].task.Action)
			assert.Equal(t, backoff.DefaultMin, delayed[0].delay)
			assert.Equal(t, backoff.DefaultMin, f.o.Backoff(tt.facet))
		})
	}
}

func TestOnTaskFailure_KeepsTagDelta(t *testing.T) {
	f := newFixture(t)
	add := model.TagGroups{"vip": {"gold"}}

	f.o.OnTaskFailure(context.Background(), model.NewTagTask(model.ActionUpdateChannelTagGroups, add, nil), &engine.PanicError{})

	delayed := f.disp.Delayed()
	require.Len(t, delayed, 1)
	assert.Equal(t, add, delayed[0].task.Add)
	require.NotNil(t, delayed[0].task.BackOff)
	assert.Equal(t, 10*time.Second, *delayed[0].task.BackOff)
}

func TestOnTaskFailure_ClearsRegisteringFlag(t *testing.T) {
	f := newFixture(t)
	f.o.registering = true

	f.o.OnTaskFailure(context.Background(), model.NewTask(model.ActionStartPlatformRegistration), errors.New("boom"))

	assert.False(t, f.o.Registering())
}

func TestOnTaskFailure_NoRetryForClear(t *testing.T) {
	f := newFixture(t)
	f.o.OnTaskFailure(context.Background(), model.NewTask(model.ActionClearPendingNamedUserTags), errors.New("boom"))
	assert.Empty(t, f.disp.Delayed())
}

func TestWithObserver_FansOut(t *testing.T) {
	var a, b []Result
	o := New(Config{}, nil, nil, nil, &fakeDispatcher{},
		WithObserver(ObserverFunc(func(_ context.Context, r Result) { a = append(a, r) })),
		WithObserver(ObserverFunc(func(_ context.Context, r Result) { b = append(b, r) })),
	)

	o.notify(context.Background(), Result{Success: true, ChannelID: "abc"})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestNew_Defaults(t *testing.T) {
	o := New(Config{}, nil, nil, nil, &fakeDispatcher{})
	assert.Equal(t, DefaultReregistrationInterval, o.cfg.ReregistrationInterval)
	assert.IsType(t, LogObserver{}, o.observer)
	assert.Zero(t, o.Backoff(backoff.ChannelRegistration))
}

// The scheduler drives the orchestrator end to end: a chained create,
// named-user update and tag sync all run in one drain.
func TestOrchestrator_WithScheduler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sched := engine.New(newTaskStore(t), engine.WithClock(f.clock))
	o := New(f.cfg, f.state, f.dir, nil, sched, WithClock(f.clock))

	_, err := f.state.SetNamedUserID(ctx, "alice", false)
	require.NoError(t, err)
	_, err = f.state.MergePendingTags(ctx, identity.ChannelTags, model.TagGroups{"vip": {"gold"}}, nil)
	require.NoError(t, err)

	sched.Enqueue(model.NewTask(model.ActionUpdateRegistration))
	n := sched.Drain(ctx, o)

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"create_channel", "associate_named_user", "update_channel_tags"}, f.ops())
}

// panicOnceClient panics on the first tag group update, after the handler
// has already stored the merged delta.
type panicOnceClient struct {
	directory.Client
	panicked bool
}

func (c *panicOnceClient) UpdateTagGroups(ctx context.Context, owner directory.Owner, add, remove model.TagGroups) (directory.Response, error) {
	if !c.panicked {
		c.panicked = true
		panic("connection reset mid-write")
	}
	return c.Client.UpdateTagGroups(ctx, owner, add, remove)
}

// handleRecovering runs a task the way the scheduler does: a panic becomes
// an error and is reported to OnTaskFailure.
func handleRecovering(f *fixture, task model.Task) {
	ctx := context.Background()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &engine.PanicError{Action: task.Action, Value: r}
			}
		}()
		return f.o.Handle(ctx, task)
	}()
	if err != nil {
		f.o.OnTaskFailure(ctx, task, err)
	}
}

func TestOnTaskFailure_StoredDeltaNotCarried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withClient(func(f *fixture) directory.Client {
		return &panicOnceClient{Client: f.dir}
	}))
	f.recordChannel("abc")

	handleRecovering(f, channelTagTask(model.TagGroups{"vip": {"gold"}}, nil))

	delayed := f.disp.Delayed()
	require.Len(t, delayed, 1)
	retry := delayed[0].task
	assert.Equal(t, model.ActionRetryUpdateChannelTagGroups, retry.Action)
	assert.True(t, retry.Add.IsEmpty(), "delta was already stored")
	assert.True(t, retry.Remove.IsEmpty())

	pending, err := f.state.PendingTags(ctx, identity.ChannelTags)
	require.NoError(t, err)
	assert.Equal(t, model.TagGroups{"vip": {"gold"}}, pending.Add)

	// A newer edit removes the tag before the retry fires.
	f.handle(channelTagTask(nil, model.TagGroups{"vip": {"gold"}}))
	f.handle(retry)

	calls := f.dir.CallsTo(directorytest.OpUpdateChannelTags)
	require.Len(t, calls, 1, "the retry finds nothing pending")
	assert.True(t, calls[0].Add.IsEmpty())
	assert.Equal(t, model.TagGroups{"vip": {"gold"}}, calls[0].Remove)

	pending, err = f.state.PendingTags(ctx, identity.ChannelTags)
	require.NoError(t, err)
	assert.True(t, pending.IsEmpty())
}
