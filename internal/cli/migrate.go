package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maximaxme/subboy/internal/migrations"
	"github.com/maximaxme/subboy/internal/storage/repository"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.load(); err != nil {
				return err
			}
			db, err := repository.New(e.cfg.StorageConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Run(db.DB, e.cfg.MigrationsPath); err != nil {
				return err
			}
			version, dirty, err := migrations.Version(db.DB, e.cfg.MigrationsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
}
