package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	appscheduler "github.com/maximaxme/subboy/internal/app/scheduler"
	"github.com/maximaxme/subboy/internal/services/reminder"
	"github.com/maximaxme/subboy/internal/storage"
	"github.com/maximaxme/subboy/internal/storage/repository"
)

func newRemindCmd(e *env) *cobra.Command {
	var (
		date   string
		hour   int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "remind <day_before|weekly|monthly>",
		Short: "Send one kind of reminder now",
		Long: `Select and send reminders of one kind for the given day.
With --dry-run the messages are printed instead of being sent.

Examples:
  subboyctl remind day_before --dry-run
  subboyctl remind weekly --date 2024-06-10
  subboyctl remind monthly --hour 9`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{reminder.KindDayBefore, reminder.KindWeekly, reminder.KindMonthly},
		RunE: func(cmd *cobra.Command, args []string) error {
			today, err := e.today(date)
			if err != nil {
				return err
			}
			if err := e.load(); err != nil {
				return err
			}
			kind, err := reminder.ByName(args[0], e.cfg.Scheduler)
			if err != nil {
				return err
			}
			p := reminder.Params{Today: today}
			if cmd.Flags().Changed("hour") {
				if hour < 0 || hour > 23 {
					return fmt.Errorf("invalid --hour %d", hour)
				}
				p.Hour = &hour
			}

			if dryRun {
				db, err := repository.New(e.cfg.StorageConnectionString)
				if err != nil {
					return err
				}
				defer db.Close()
				return runRemindDry(cmd.Context(), cmd.OutOrStdout(), db, kind, p)
			}

			core, err := appscheduler.NewCore(cmd.Context(), e.cfg, e.log, nil)
			if err != nil {
				return err
			}
			defer core.Close()

			res, err := core.Scheduler.Remind(cmd.Context(), kind, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent: %d, failed: %d, abandoned: %d\n", res.Sent, res.Failed, res.Abandoned)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "selection day, YYYY-MM-DD (default today UTC)")
	cmd.Flags().IntVar(&hour, "hour", 0, "only users with this notify hour")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print messages instead of sending")
	return cmd
}

func runRemindDry(ctx context.Context, out io.Writer, store storage.Store, kind reminder.Kind, p reminder.Params) error {
	reminders, err := reminder.Collect(ctx, store, kind, p)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		fmt.Fprintf(out, "--- user %d\n%s\n", r.UserID, kind.Format(r))
	}
	fmt.Fprintf(out, "total: %d\n", len(reminders))
	return nil
}
