package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sprout/pkg/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply catalog schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cmd.Context(), databaseConfig(cfg), ctx.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrationService(cfg, ctx.logger).Migrate(db); err != nil {
				return err
			}
			cmd.Println("Migrations applied")
			return nil
		},
	}
}
