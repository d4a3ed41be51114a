package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/mirror"
	"github.com/echovault-sync/echovault/internal/output"
)

// authPollInterval is the polling cadence for complete_auth (spec.md §6
// "polls complete_auth at >= 2s intervals until terminal").
const authPollInterval = 2 * time.Second

func newAuthCmd() *cobra.Command {
	var remoteType string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate the cloud mirror",
		Long: `Authenticate EchoVault against its cloud mirror backend.

Runs start_auth, then polls complete_auth at 2 second intervals until the
authentication flow reaches a terminal state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuth(cmd.Context(), cmd, remoteType)
		},
	}

	cmd.Flags().StringVar(&remoteType, "remote-type", "drive", "Cloud backend type passed to start_auth (e.g. drive, dropbox)")
	return cmd
}

func runAuth(ctx context.Context, cmd *cobra.Command, remoteType string) error {
	out := output.New(cmd.OutOrStdout())

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.driver.IsAuthenticated(ctx) {
		out.Success("Already authenticated")
		return nil
	}

	out.Status("🔐", "Starting authentication...")
	state, err := a.driver.StartAuth(ctx, remoteType)
	if err != nil {
		out.Error(errors.FormatForCLI(err))
		return err
	}

	if state.VerifyURL != "" {
		out.Statusf("🔗", "%s", state.VerifyURL)
	}

	out.Status("⏳", "Waiting for authentication to complete...")
	for {
		switch state.Status {
		case mirror.Authenticated:
			out.Success("Authentication complete")
			return nil
		case mirror.NotAuthenticated:
			return fmt.Errorf("authentication did not complete")
		case mirror.Pending:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(authPollInterval):
			}
		}

		state, err = a.driver.CompleteAuth(ctx)
		if err != nil {
			out.Error(errors.FormatForCLI(err))
			return err
		}
	}
}
