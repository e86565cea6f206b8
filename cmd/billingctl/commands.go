package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMigrateCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := get().migrate(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newUsageCmd(get func() *app) *cobra.Command {
	var (
		account string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show the current month's billed runs of an account",
		Long:  "Show the current month's billed runs of an account. Stuck runs found on the way are failed, as the admission check would.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, err := parseAccount(account)
			if err != nil {
				return err
			}
			report, err := get().svc.UsageReport(cmd.Context(), accountID, now())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tBILLED\tEXCLUDED")
			for _, r := range report.Runs {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.RunID, r.Status, r.Started.Format(time.RFC3339), r.Billed.Round(time.Second), r.Excluded)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nperiod start: %s\ntotal: %.2f minutes\n",
				report.PeriodStart.Format(time.DateOnly), report.Minutes())
			if report.Healed > 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stuck runs failed: %d\n", report.Healed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newStatusCmd(get func() *app) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the subscription status of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, err := parseAccount(account)
			if err != nil {
				return err
			}
			report, err := get().svc.SubscriptionStatus(cmd.Context(), accountID, now())
			if err != nil {
				return err
			}
			return writeJSON(cmd, report)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account ID")
	return cmd
}

func newSweepCmd(get func() *app, opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail every running run older than the stuck threshold, across all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := get().svc.SweepStuckRuns(cmd.Context(), now())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "failed %d stuck run(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.stuckAfter, "older-than", 0, "Stuck threshold (default BILLING_STUCK_RUN_AFTER)")
	return cmd
}

func newOverrideCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage manual unlimited overrides",
	}

	var (
		grantAccount string
		plan         string
	)
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Give an account unlimited usage and every model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, err := parseAccount(grantAccount)
			if err != nil {
				return err
			}
			o, err := get().svc.GrantOverride(cmd.Context(), accountID, plan, now())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "override %s granted to %s (plan %q)\n", o.ID, o.AccountID, o.PlanName)
			return nil
		},
	}
	grant.Flags().StringVar(&grantAccount, "account", "", "Account ID")
	grant.Flags().StringVar(&plan, "plan", "custom", "Plan name shown to the account")

	var revokeAccount string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Deactivate an account's override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, err := parseAccount(revokeAccount)
			if err != nil {
				return err
			}
			if err := get().svc.RevokeOverride(cmd.Context(), accountID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "override of %s revoked\n", accountID)
			return nil
		},
	}
	revoke.Flags().StringVar(&revokeAccount, "account", "", "Account ID")

	cmd.AddCommand(grant, revoke)
	return cmd
}

func newReconcileCmd(get func() *app) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Keep the newest active subscription of an account and cancel the rest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, err := parseAccount(account)
			if err != nil {
				return err
			}
			sub, err := get().svc.Reconcile(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			if sub == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no active subscription")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "kept subscription %s (price %s)\n", sub.ID, sub.PriceID)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account ID")
	return cmd
}
