package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/config"
	"github.com/echovault-sync/echovault/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the user config file's backups",
	}

	cmd.AddCommand(newConfigBackupCmd())
	cmd.AddCommand(newConfigListBackupsCmd())
	cmd.AddCommand(newConfigRestoreCmd())
	return cmd
}

func newConfigBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up the user config file",
		Long: `Create a timestamped copy of ~/.config/echovault/config.yaml.
Older backups beyond the most recent three are pruned automatically.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			path, err := config.BackupUserConfig()
			if err != nil {
				return fmt.Errorf("back up user config: %w", err)
			}
			if path == "" {
				out.Warning("no user config file to back up")
				return nil
			}
			out.Successf("backed up to %s", path)
			return nil
		},
	}
}

func newConfigListBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-backups",
		Short: "List user config backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return fmt.Errorf("list user config backups: %w", err)
			}
			if len(backups) == 0 {
				out.Warning("no user config backups found")
				return nil
			}
			for _, b := range backups {
				out.Statusf("🗃️", "%s", filepath.Base(b))
			}
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-path>",
		Short: "Restore the user config file from a backup",
		Long: `Restore ~/.config/echovault/config.yaml from a backup produced by
"echovault config backup" or "echovault config list-backups". The current
config, if any, is itself backed up first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())

			if err := config.RestoreUserConfig(args[0]); err != nil {
				return fmt.Errorf("restore user config: %w", err)
			}
			out.Success("user config restored")
			return nil
		},
	}
}
