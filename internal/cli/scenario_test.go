package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

func TestScenario_Directory(t *testing.T) {
	out, err := execute(t, "scenario", scenariosDir)
	require.NoError(t, err)

	assert.Contains(t, out, "PASS fresh_install")
	assert.Contains(t, out, "[1] start")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, ", 0 failed")
}

func TestScenario_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "scenario", filepath.Join(scenariosDir, "transient_retry.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   ScenarioReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.True(t, resp.Data.Scenarios[0].Pass)
	assert.Contains(t, resp.Data.Scenarios[0].Trace, "backoff=20s")
}

func TestScenario_Failure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: bad
description: "expects an update that never happens"
steps:
  - start: true
assertions:
  - type: request_count
    op: update_channel
    count: 1
`), 0o644))

	out, err := execute(t, "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL bad")
}

func TestScenario_MissingPath(t *testing.T) {
	_, err := execute(t, "scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
