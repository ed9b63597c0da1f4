package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/transient_retry.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, FormatTrace(scenario.Name, first.Trace), FormatTrace(scenario.Name, second.Trace))
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "expects a request that never happens"
steps:
  - start: true
assertions:
  - type: request_count
    op: create_channel
    count: 2
  - type: final_state
    expect: { channel_id: nope }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "2 requests to create_channel")
	assert.Contains(t, result.Errors[1], "channel_id: want nope, got channel-1")
}

func TestRun_NamedUserRejectionStaysStale(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: forbidden_named_user
description: "a 403 leaves the association pending without a retry"
directory:
  associate_named_user:
    - status: 403
steps:
  - start: true
  - named_user: user-1
assertions:
  - type: request_contains
    op: associate_named_user
    fields: { named_user: user-1, status: "403" }
  - type: final_state
    expect:
      named_user_id: user-1
      named_user_in_sync: false
      scheduled: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_PlatformUnavailableStillRegisters(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: no_platform_token
description: "without a token the channel registers with opt-in off"
config:
  opt_in: true
steps:
  - start: true
assertions:
  - type: request_contains
    op: create_channel
    fields: { opt_in: "false" }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Requests(), 1)
}

func TestRunAll(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	paths = append(paths, filepath.Join(t.TempDir(), "missing.yaml"))

	res := RunAll(context.Background(), paths)

	assert.Equal(t, len(paths), res.Total)
	assert.Equal(t, len(paths)-1, res.Passed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "missing.yaml", res.Failures[0].Scenario)
	assert.Contains(t, res.Results, "fresh_install")
}
