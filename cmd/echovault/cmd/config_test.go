package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echovault-sync/echovault/internal/config"
)

func setupUserConfigEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	return home
}

func TestConfigBackupCmd_NoUserConfigWarnsAndSucceeds(t *testing.T) {
	setupUserConfigEnv(t)

	cmd := newConfigBackupCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no user config")
}

func TestConfigBackupCmd_BacksUpExistingConfig(t *testing.T) {
	setupUserConfigEnv(t)

	configPath := config.GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("vault_path: /tmp/vault\n"), 0o644))

	cmd := newConfigBackupCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	require.NoError(t, cmd.Execute())

	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
}

func TestConfigListBackupsCmd_ListsNewestFirst(t *testing.T) {
	setupUserConfigEnv(t)

	configPath := config.GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("vault_path: /tmp/vault\n"), 0o644))

	_, err := config.BackupUserConfig()
	require.NoError(t, err)

	cmd := newConfigListBackupsCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), ".bak.")
}

func TestConfigRestoreCmd_RestoresFromBackup(t *testing.T) {
	setupUserConfigEnv(t)

	configPath := config.GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("vault_path: /tmp/original\n"), 0o644))

	backupPath, err := config.BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	require.NoError(t, os.WriteFile(configPath, []byte("vault_path: /tmp/changed\n"), 0o644))

	cmd := newConfigRestoreCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{backupPath})

	require.NoError(t, cmd.Execute())

	restored, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(restored), "/tmp/original")
}

func TestConfigCmd_AddedToRoot(t *testing.T) {
	rootCmd := NewRootCmd()

	configCmd, _, err := rootCmd.Find([]string{"config", "backup"})

	require.NoError(t, err)
	assert.Equal(t, "backup", configCmd.Name())
}
