package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/daemon"
	"github.com/echovault-sync/echovault/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report auth, vault path, and per-source session counts",
		Long: `Report authentication status, the vault path, and a per-source
breakdown of catalog session counts.

If a sync daemon is running, its live status (including the outcome of
the last background sync) is used; otherwise status is read directly
from the catalog.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if client.IsRunning() {
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return renderStatus(cmd, out, *status, jsonOutput)
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	status := daemon.StatusResult{
		VaultPath:     a.vaultDir,
		Authenticated: a.driver.IsAuthenticated(ctx),
	}

	total, err := a.cat.Count(ctx)
	if err != nil {
		return err
	}
	status.TotalSessions = total

	entries, err := a.cat.GetAllSessions(ctx)
	if err != nil {
		return err
	}
	bySource := make(map[string]int)
	for _, e := range entries {
		bySource[e.Source]++
	}
	status.SessionsBySource = bySource

	return renderStatus(cmd, out, status, jsonOutput)
}

func renderStatus(cmd *cobra.Command, out *output.Writer, status daemon.StatusResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	if status.Authenticated {
		out.Success("Authenticated")
	} else {
		out.Warning("Not authenticated")
	}
	out.Statusf("📁", "Vault: %s", status.VaultPath)
	out.Statusf("💬", "Total sessions: %d", status.TotalSessions)
	for source, count := range status.SessionsBySource {
		out.Statusf("  ", "%s: %d", source, count)
	}
	if status.LastSyncTime != "" {
		out.Statusf("🕒", "Last sync: %s (%s)", status.LastSyncTime, status.LastSyncOutcome)
	}
	return nil
}
