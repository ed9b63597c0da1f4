package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/app"
	"github.com/roach88/regsync/internal/config"
	"github.com/roach88/regsync/internal/directory/directorytest"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
)

// writeConfig writes a config using a fresh SQLite store and returns its
// path along with the database path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "regsync.db")
	cfgPath := filepath.Join(dir, "regsync.toml")
	content := fmt.Sprintf(`
[database]
path = %q

[directory]
base_url = "http://127.0.0.1:1"

[device]
opt_in = true
`, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func scheduled(t *testing.T, dbPath string) []store.ScheduledTask {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.ListScheduled(context.Background())
	require.NoError(t, err)
	return rows
}

func TestEnqueue_WritesDueTask(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "enqueue", "update-registration")
	require.NoError(t, err)
	assert.Contains(t, out, "Submitted update-registration")

	rows := scheduled(t, dbPath)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ActionUpdateRegistration, rows[0].Task.Action)
	assert.WithinDuration(t, time.Now(), rows[0].FireAt, time.Minute)
}

func TestEnqueue_TagDelta(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "enqueue", "update-channel-tag-groups",
		"--add", "loyalty=gold,vip", "--remove", "old=x")
	require.NoError(t, err)

	rows := scheduled(t, dbPath)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TagGroups{"loyalty": {"gold", "vip"}}, rows[0].Task.Add)
	assert.Equal(t, model.TagGroups{"old": {"x"}}, rows[0].Task.Remove)
}

func TestEnqueue_Rejections(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "enqueue", "reboot")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--config", cfgPath, "enqueue", "update-registration", "--add", "g=t")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, app.ErrInvalidRequest)

	_, err = execute(t, "--config", cfgPath, "enqueue", "update-channel-tag-groups", "--add", "nogroup")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEnqueue_MissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "enqueue", "update-registration")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestStatus_JSONConfigFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")

	out, err := execute(t, "--config", missing, "--format", "json", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "failed to load config")
}

func TestEnqueue_JSONRequestFailure(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "--format", "json", "enqueue", "reboot")
	require.Error(t, err)

	var resp Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRequest, resp.Error.Code)
}

func TestNamedUser_SetAndClear(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "named-user", "set", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "alice association requested")

	rows := scheduled(t, dbPath)
	require.Len(t, rows, 2)
	assert.Equal(t, model.ActionClearPendingNamedUserTags, rows[0].Task.Action)
	assert.Equal(t, model.ActionUpdateNamedUser, rows[1].Task.Action)

	out, err = execute(t, "--config", cfgPath, "named-user", "set", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")
	assert.Len(t, scheduled(t, dbPath), 2)

	out, err = execute(t, "--config", cfgPath, "named-user", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "disassociation requested")
	assert.Len(t, scheduled(t, dbPath), 4)
}

func TestTags_AddNamedUser(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "--format", "json", "tags", "add", "--facet", "named-user", "interests=golf")
	require.NoError(t, err)

	var resp Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	rows := scheduled(t, dbPath)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ActionUpdateNamedUserTags, rows[0].Task.Action)
	assert.Equal(t, model.TagGroups{"interests": {"golf"}}, rows[0].Task.Add)
}

func TestTags_Invalid(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "tags", "remove", "--facet", "device", "g=t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --facet")

	_, err = execute(t, "--config", cfgPath, "tags", "add", "g=")
	require.Error(t, err)
	assert.ErrorIs(t, err, app.ErrInvalidRequest, "a group without tags is an empty delta")
}

func TestStatus_EmptyStore(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Channel:     (not created)")
	assert.Contains(t, out, "Named user:  (never set)")
	assert.Contains(t, out, "Scheduled:   none")
}

func TestStatus_JSONAfterRequest(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "--config", cfgPath, "named-user", "set", "bob")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "--format", "json", "status")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   app.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Data.NamedUser.ID)
	assert.Equal(t, "bob", *resp.Data.NamedUser.ID)
	assert.False(t, resp.Data.NamedUser.InSync)
	assert.Len(t, resp.Data.Scheduled, 2)
}

func TestRun_RegistersAndStops(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	dir := directorytest.New()

	root := &RootOptions{Format: "text", Config: cfgPath}
	opts := &RunOptions{RootOptions: root, AppOptions: []app.Option{app.WithDirectory(dir)}}
	cmd := NewRunCommand(root)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runEngine(opts, cmd) }()

	require.Eventually(t, func() bool {
		return len(dir.CallsTo(directorytest.OpCreateChannel)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Contains(t, buf.String(), "Engine started")

	backend, err := app.OpenStore(config.DatabaseConfig{Backend: config.BackendSQLite, Path: dbPath})
	require.NoError(t, err)
	defer backend.Close()
	st, err := app.NewOfflineControl(backend).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "channel-1", st.Channel.ID)
}

func TestParseTagArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    model.TagGroups
		wantErr bool
	}{
		{"single", []string{"g=a"}, model.TagGroups{"g": {"a"}}, false},
		{"several tags", []string{"g=a, b ,c"}, model.TagGroups{"g": {"a", "b", "c"}}, false},
		{"repeated group", []string{"g=a", "g=b", "h=c"}, model.TagGroups{"g": {"a", "b"}, "h": {"c"}}, false},
		{"empty tags", []string{"g="}, model.TagGroups{}, false},
		{"no equals", []string{"g"}, nil, true},
		{"empty group", []string{" =a"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTagArgs(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
