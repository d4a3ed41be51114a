package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCmd_ShowsHelp(t *testing.T) {
	cmd := newDoctorCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "diagnostics")
}

func TestDoctorCmd_ColdVault_ReportsJSONChecks(t *testing.T) {
	tmpHome := t.TempDir()
	tmpVault := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("ECHOVAULT_VAULT_PATH", tmpVault)
	vaultPathFlag = ""

	cmd := newDoctorCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--json", "--offline"})

	err := cmd.Execute()
	require.NoError(t, err)

	var parsed struct {
		Status string `json:"status"`
		Checks []struct {
			Name string `json:"name"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.NotEmpty(t, parsed.Checks)

	var names []string
	for _, c := range parsed.Checks {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "disk_space")
	assert.Contains(t, names, "write_permissions")
}
