package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/output"
)

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run the ingest coordinator only",
		Long: `Run only the ingest coordinator: scan every registered source adapter
for fresh session artifacts, copy them into the vault tree, and upsert
the catalog. Unlike 'sync', this never touches the cloud mirror.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd.Context(), cmd)
		},
	}

	return cmd
}

func runExtract(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out.Status("📥", "Extracting sessions...")
	result, err := a.coordinator.Tick(ctx)
	if err != nil {
		out.Error(errors.FormatForCLI(err))
		return err
	}

	for _, extractErr := range result.Errors {
		out.Warningf("extract warning: %s", extractErr)
	}

	out.Successf("Extract complete: %d inserted, %d updated, %d skipped",
		result.Inserted, result.Updated, result.Skipped)
	return nil
}
