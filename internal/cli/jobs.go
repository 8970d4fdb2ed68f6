package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maximaxme/subboy/internal/cache"
	"github.com/maximaxme/subboy/internal/runner"
	schedulerservice "github.com/maximaxme/subboy/internal/services/scheduler"
)

type lastRunReader interface {
	LastRun(ctx context.Context, name string) (runner.JobStatus, bool, error)
}

func newJobsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "Show the last recorded run of every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(); err != nil {
				return err
			}
			if e.cfg.AddressRedis == "" {
				return fmt.Errorf("job runs are recorded in redis: redis_connection.addressredis is not set")
			}
			c, err := cache.InitServer(cmd.Context(), e.cfg.RedisConnection)
			if err != nil {
				return err
			}
			defer c.Close()

			return runJobs(cmd.Context(), cmd.OutOrStdout(), c,
				[]string{schedulerservice.JobDaily, schedulerservice.JobWeekly, schedulerservice.JobMonthly})
		},
	}
}

func runJobs(ctx context.Context, out io.Writer, reader lastRunReader, names []string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATE\tLAST RUN\tDURATION\tRUNS\tFAILURES\tERROR")
	for _, name := range names {
		st, ok, err := reader.LastRun(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "%s\t-\tnever\t-\t0\t0\t\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			name, st.State, st.LastRun.UTC().Format(time.RFC3339),
			st.LastDuration.Round(time.Millisecond), st.Runs, st.Failures, st.LastError)
	}
	return w.Flush()
}
