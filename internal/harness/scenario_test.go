package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/regsync/internal/model"
)

const minimalScenario = `
name: minimal
description: "just starts"
steps:
  - start: true
assertions:
  - type: request_count
    op: create_channel
    count: 1
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, []string{StepStart}, s.Steps[0].Kinds())
	assert.Equal(t, 1, s.Assertions[0].Count)
}

func TestParseScenario_FullShape(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: "every field"
config:
  device_type: ios
  opt_in: true
  set_tags: true
  tags: [a, b]
  platform_token: tok
  clear_named_user_on_reinstall: true
directory:
  create_channel:
    - status: 200
      channel_id: c-1
    - transport: true
steps:
  - start: true
  - advance: 90s
  - named_user: alice
  - clear_named_user: true
  - tags: { facet: named-user, add: { g: [x] }, remove: { h: [y] } }
  - enqueue: update-registration
  - restart: true
assertions:
  - type: final_state
    expect: { channel_id: c-1 }
`))
	require.NoError(t, err)

	assert.Equal(t, "ios", s.Config.DeviceType)
	assert.Equal(t, []string{"a", "b"}, s.Config.Tags)
	require.Len(t, s.Directory["create_channel"], 2)
	assert.True(t, s.Directory["create_channel"][1].Transport)
	require.Len(t, s.Steps, 7)
	assert.Equal(t, model.TagGroups{"g": {"x"}}, s.Steps[4].Tags.Add)
	assert.Equal(t, model.TagGroups{"h": {"y"}}, s.Steps[4].Tags.Remove)
}

func TestResponse_DefaultLocation(t *testing.T) {
	r := Response{Status: 201, ChannelID: "c-9"}.result()
	assert.Equal(t, "https://directory.test/api/channels/c-9", r.Location)

	r = Response{Status: 201, ChannelID: "c-9", Location: "https://x/c-9"}.result()
	assert.Equal(t, "https://x/c-9", r.Location)

	r = Response{Status: 201}.result()
	assert.Empty(t, r.Location, "missing identity stays missing")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", `
description: d
steps: [{start: true}]
assertions: [{type: request_count, op: create_channel}]`, "name is required"},
		{"missing description", `
name: n
steps: [{start: true}]
assertions: [{type: request_count, op: create_channel}]`, "description is required"},
		{"no steps", `
name: n
description: d
assertions: [{type: request_count, op: create_channel}]`, "steps list is required"},
		{"no assertions", `
name: n
description: d
steps: [{start: true}]`, "assertions list is required"},
		{"unknown field", `
name: n
description: d
stpes: [{start: true}]
steps: [{start: true}]
assertions: [{type: request_count, op: create_channel}]`, "failed to parse YAML"},
		{"two actions in a step", `
name: n
description: d
steps: [{start: true, restart: true}]
assertions: [{type: request_count, op: create_channel}]`, "exactly one action"},
		{"empty step", `
name: n
description: d
steps: [{}]
assertions: [{type: request_count, op: create_channel}]`, "exactly one action"},
		{"bad duration", `
name: n
description: d
steps: [{advance: soon}]
assertions: [{type: request_count, op: create_channel}]`, "advance"},
		{"unknown facet", `
name: n
description: d
steps: [{tags: {facet: device}}]
assertions: [{type: request_count, op: create_channel}]`, "tags"},
		{"unknown action", `
name: n
description: d
steps: [{enqueue: reboot}]
assertions: [{type: request_count, op: create_channel}]`, "unknown action"},
		{"unknown directory op", `
name: n
description: d
directory: {delete_channel: [{status: 200}]}
steps: [{start: true}]
assertions: [{type: request_count, op: create_channel}]`, "unknown operation"},
		{"unknown assertion", `
name: n
description: d
steps: [{start: true}]
assertions: [{type: trace_magic}]`, "unknown assertion type"},
		{"order without ops", `
name: n
description: d
steps: [{start: true}]
assertions: [{type: request_order}]`, "ops list is required"},
		{"unknown state key", `
name: n
description: d
steps: [{start: true}]
assertions: [{type: final_state, expect: {colour: blue}}]`, "unknown final_state key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
