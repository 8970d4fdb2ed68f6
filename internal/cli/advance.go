package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/maximaxme/subboy/internal/cache"
	"github.com/maximaxme/subboy/internal/services/advancement"
	"github.com/maximaxme/subboy/internal/services/subscription"
	"github.com/maximaxme/subboy/internal/storage/repository"
)

type overdueAdvancer interface {
	AdvanceOverdue(ctx context.Context, today time.Time) (advancement.Report, error)
}

func newAdvanceCmd(e *env) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Move overdue next payment dates forward",
		Long: `Advance every subscription whose next payment date is before the given day.

Examples:
  subboyctl advance
  subboyctl advance --date 2024-06-10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			today, err := e.today(date)
			if err != nil {
				return err
			}
			if err := e.load(); err != nil {
				return err
			}
			db, err := repository.New(e.cfg.StorageConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			adv := advancement.New(db, e.log, nil)
			if e.cfg.AddressRedis != "" {
				c, err := cache.InitServer(cmd.Context(), e.cfg.RedisConnection)
				if err != nil {
					return err
				}
				defer c.Close()
				adv.WithInvalidator(subscription.NewSubscriptionService(db, c, e.log, e.cfg.Scheduler.DefaultNotifyHour))
			}
			return runAdvance(cmd.Context(), cmd.OutOrStdout(), adv, today)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to advance to, YYYY-MM-DD (default today UTC)")
	return cmd
}

func runAdvance(ctx context.Context, out io.Writer, adv overdueAdvancer, today time.Time) error {
	report, err := adv.AdvanceOverdue(ctx, today)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "advanced: %d\n", report.Advanced)
	if len(report.Skipped) > 0 {
		fmt.Fprintf(out, "skipped:  %d %v\n", len(report.Skipped), report.Skipped)
	}
	return nil
}
