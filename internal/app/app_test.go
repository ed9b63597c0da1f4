package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/config"
	"github.com/roach88/regsync/internal/directory/directorytest"
	"github.com/roach88/regsync/internal/engine"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
	fake "github.com/roach88/regsync/internal/testutil"
)

type noTimers struct{}

func (noTimers) Stop() bool { return true }

func neverFire(time.Duration, func()) engine.Stopper { return noTimers{} }

type testApp struct {
	*App
	backend store.Backend
	dir     *directorytest.Fake
	clock   *fake.FakeClock
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "regsync.db")
	cfg.Device.OptIn = true
	if mutate != nil {
		mutate(cfg)
	}

	backend, err := OpenStore(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	dir := directorytest.New()
	clock := fake.NewFakeClock(fake.Epoch)
	a, err := New(cfg, backend,
		WithDirectory(dir),
		WithClock(clock),
		WithAfterFunc(neverFire),
		WithTokens(fake.NewFixedTokenGenerator("nu")),
	)
	require.NoError(t, err)
	return &testApp{App: a, backend: backend, dir: dir, clock: clock}
}

func TestApp_StartRegistersChannel(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)

	require.NoError(t, a.Start(ctx))
	n := a.Drain(ctx)

	// start, then the chained named-user update and channel tag sync.
	assert.Equal(t, 3, n)
	creates := a.dir.CallsTo(directorytest.OpCreateChannel)
	require.Len(t, creates, 1)
	assert.Equal(t, "android", creates[0].Payload.DeviceType)
	assert.False(t, creates[0].Payload.OptIn, "no platform token yet")

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "channel-1", st.Channel.ID)
	require.NotNil(t, st.Snapshot)
	assert.Len(t, st.Snapshot.Digest, 64)
	assert.Empty(t, st.Backoff)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.DirectoryRequests.WithLabelValues("create_channel", "2xx")))
}

func TestApp_PlatformTokenFromConfig(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, func(c *config.Config) {
		c.Platform.Enabled = true
		c.Platform.Token = "static-token"
		c.Device.AppVersion = "1.0.0"
	})

	require.NoError(t, a.Start(ctx))
	a.Drain(ctx)

	creates := a.dir.CallsTo(directorytest.OpCreateChannel)
	require.Len(t, creates, 1)
	assert.Equal(t, "static-token", creates[0].Payload.PushAddress)
	assert.True(t, creates[0].Payload.OptIn)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Platform)
	assert.True(t, st.Platform.HasToken)
}

func TestApp_TransientFailureShowsBackoffAndSchedule(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)
	a.dir.Script(directorytest.OpCreateChannel, directorytest.Result{Status: 503})

	require.NoError(t, a.Start(ctx))
	a.Drain(ctx)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"channel_registration": "10s"}, st.Backoff)
	require.Len(t, st.Scheduled, 1)
	assert.Equal(t, model.ActionRetryChannelRegistration, st.Scheduled[0].Action)
	assert.Equal(t, "10s", st.Scheduled[0].BackOff)

	a.clock.Advance(10 * time.Second)
	a.Drain(ctx)

	st, err = a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "channel-1", st.Channel.ID)
	assert.Empty(t, st.Scheduled)
	assert.Empty(t, st.Backoff)
}

func TestApp_SetNamedUser(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)
	require.NoError(t, a.Start(ctx))
	a.Drain(ctx)

	require.NoError(t, a.EditTags(ctx, identity.NamedUserTags, model.TagGroups{"crm": {"old-user"}}, nil))
	a.Drain(ctx)

	changed, err := a.SetNamedUser(ctx, "  alice ")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []model.Task{
		model.NewTask(model.ActionClearPendingNamedUserTags),
		model.NewTask(model.ActionUpdateNamedUser),
	}, a.Scheduler().Pending())

	a.Drain(ctx)
	associations := a.dir.CallsTo(directorytest.OpAssociate)
	require.Len(t, associations, 1)
	assert.Equal(t, "alice", associations[0].NamedUserID)
	assert.Empty(t, a.dir.CallsTo(directorytest.OpUpdateNamedUserTags), "previous user's tags were dropped")

	changed, err = a.SetNamedUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, a.Scheduler().Pending())

	changed, err = a.ClearNamedUser(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	a.Drain(ctx)
	assert.Len(t, a.dir.CallsTo(directorytest.OpDisassociate), 1)
}

func TestControl_OfflineSubmissionReachesEngine(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil)
	require.NoError(t, a.Start(ctx))
	a.Drain(ctx)

	offline := NewOfflineControl(a.backend)
	require.NoError(t, offline.EditTags(ctx, identity.ChannelTags, model.TagGroups{"vip": {"gold"}}, nil))

	st, err := offline.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Scheduled, 1)
	assert.Equal(t, model.ActionUpdateChannelTagGroups, st.Scheduled[0].Action)

	// The engine's clock is behind the wall clock used by the offline
	// submission; move it forward so the row is due.
	a.clock.Set(time.Now().Add(time.Second))
	a.Drain(ctx)

	calls := a.dir.CallsTo(directorytest.OpUpdateChannelTags)
	require.Len(t, calls, 1)
	assert.Equal(t, model.TagGroups{"vip": {"gold"}}, calls[0].Add)
}

func TestControl_EnqueueRejectsTagsOnPlainAction(t *testing.T) {
	a := newTestApp(t, nil)
	err := a.Enqueue(context.Background(), model.ActionUpdateRegistration, model.TagGroups{"g": {"t"}}, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestControl_EditTagsRejectsEmpty(t *testing.T) {
	a := newTestApp(t, nil)
	err := a.EditTags(context.Background(), identity.ChannelTags, model.TagGroups{" ": {""}}, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOpenStore_Backends(t *testing.T) {
	sqlite, err := OpenStore(config.DatabaseConfig{Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	require.NoError(t, sqlite.Close())

	badger, err := OpenStore(config.DatabaseConfig{Backend: config.BackendBadger, Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, badger.Close())

	_, err = OpenStore(config.DatabaseConfig{Backend: "mysql", Path: "x"})
	require.Error(t, err)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	cfg := config.Default()
	backend, err := OpenStore(config.DatabaseConfig{Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	defer backend.Close()

	_, err = New(cfg, backend)
	require.ErrorContains(t, err, "base_url")
}

func TestApp_RunStops(t *testing.T) {
	a := newTestApp(t, nil)
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(a.dir.CallsTo(directorytest.OpCreateChannel)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	a.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
