package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/output"
	"github.com/echovault-sync/echovault/internal/replication"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full replication cycle",
		Long: `Run the full replication driver: pull the cloud mirror, import any
newly pulled session files into the catalog, run the ingest coordinator
against every local source adapter, then push the vault back to the
cloud mirror.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), cmd)
		},
	}

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.driver.IsAuthenticated(ctx) {
		out.Error("not authenticated; run 'echovault auth' first")
		return fmt.Errorf("replication driver is inert while not authenticated")
	}

	out.Status("🔄", "Syncing...")
	report, err := a.driver.Sync(ctx, a.remoteURL())
	if err != nil {
		out.Error(errors.FormatForCLI(err))
		return err
	}

	if report.Outcome == replication.SyncAlreadyInProgress {
		out.Status("⏳", "A sync is already in progress; nothing to do")
		return nil
	}

	if report.PullWarning != nil {
		out.Warningf("pull warning: %s", report.PullWarning)
	}
	for _, ingestErr := range report.Ingest.Errors {
		out.Warningf("ingest warning: %s", ingestErr)
	}

	out.Successf("Sync complete: %d imported, %d inserted, %d updated, %d skipped, %d files pushed",
		report.Imported, report.Ingest.Inserted, report.Ingest.Updated, report.Ingest.Skipped, report.PushResult.FilesPushed)
	return nil
}
