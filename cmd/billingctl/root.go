package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/runmeter/pkg/requestid"
)

// newRootCmd returns the command tree and a cleanup func releasing the app
// opened for the executed command.
func newRootCmd(open openFunc) (*cobra.Command, func()) {
	var (
		opts appOptions
		a    *app
	)

	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate run-time billing: usage, stuck runs, overrides, reconciliation",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := requestid.WithContext(cmd.Context(), requestid.New())
			cmd.SetContext(ctx)
			var err error
			a, err = open(ctx, opts)
			return err
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Write service logs to stderr")

	get := func() *app { return a }
	rootCmd.AddCommand(
		newMigrateCmd(get),
		newUsageCmd(get),
		newStatusCmd(get),
		newSweepCmd(get, &opts),
		newOverrideCmd(get),
		newReconcileCmd(get),
	)

	cleanup := func() {
		if a != nil && a.close != nil {
			a.close()
		}
	}
	return rootCmd, cleanup
}

func parseAccount(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.New("--account is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --account %q: %w", raw, err)
	}
	return id, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func now() time.Time {
	return time.Now().UTC()
}
