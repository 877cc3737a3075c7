package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/beekhof/calmirror/internal/calendar"
	"github.com/beekhof/calmirror/internal/config"
	"github.com/beekhof/calmirror/internal/sync"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		startDate string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "sync <src-calendar-id> <dst-calendar-id>",
		Short: "Replace the destination window with the source's timed events",
		Long: `Delete every event in the destination calendar within the 30-day window
starting at --start-date (UTC midnight, today when omitted), then copy every
timed event of the source calendar in the same window. All-day events are
skipped.

With --dry-run nothing is deleted or created; the events that would be
created are written to stdout as an iCalendar stream.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, destID := args[0], args[1]
			if sourceID == "" || destID == "" {
				return usagef("calendar ids must not be empty")
			}
			date, err := config.ParseStartDate(startDate, time.Now())
			if err != nil {
				return &usageError{msg: err.Error()}
			}

			ctx := cmd.Context()
			authenticator := a.authenticator(cmd)
			sourceToken, err := authenticator.Authenticate(ctx, config.ProfileSource)
			if err != nil {
				return err
			}
			destToken, err := authenticator.Authenticate(ctx, config.ProfileDestination)
			if err != nil {
				return err
			}

			source, err := calendar.NewClient(ctx, sourceToken, a.cfg.APIEndpoint)
			if err != nil {
				return fmt.Errorf("failed to create source calendar client: %w", err)
			}
			dest, err := calendar.NewClient(ctx, destToken, a.cfg.APIEndpoint)
			if err != nil {
				return fmt.Errorf("failed to create destination calendar client: %w", err)
			}

			opts := []sync.Option{sync.WithLogger(a.logger)}
			if dryRun {
				opts = append(opts, sync.WithDryRun(cmd.OutOrStdout()))
			}
			res, err := sync.NewSyncer(source, dest, opts...).Sync(ctx, sourceID, destID, date)
			if err != nil {
				a.logger.Error("sync failed", "deleted", res.Deleted, "created", res.Created, "skipped", res.Skipped)
				return err
			}
			if !dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "Sync complete: %s\n", res)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "First day of the window, YYYY-MM-DD (default today, UTC)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List both windows and print the planned events without changing anything")
	return cmd
}
