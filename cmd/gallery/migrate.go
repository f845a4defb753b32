package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartgallery/gallerydb/gallery"
)

func newMigrateCmd(a *app) *cobra.Command {
	var planOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}

			migrations := gallery.Migrations(nil)
			plan, err := db.MigrationPlan(migrations, gallery.LatestVersion)
			if err != nil {
				return fmt.Errorf("inspect migrations: %w", err)
			}

			out := cmd.OutOrStdout()
			if planOnly {
				if a.jsonOutput {
					return writeJSON(cmd, plan)
				}
				writePlain(out, "Current version: %d\n", plan.Current)
				writePlain(out, "Available version: %d\n", plan.Available)
				if plan.UpToDate() {
					return writePlain(out, "No pending migrations.\n")
				}
				writePlain(out, "Pending migrations: %d\n", len(plan.Pending))
				for _, m := range plan.Pending {
					writePlain(out, "  %d: %s\n", m.Version, m.Description)
				}
				return nil
			}

			result, err := db.Migrate(ctx, migrations, gallery.LatestVersion)
			if err != nil {
				return err
			}
			// Also restores any default category removed outside the service
			if _, err := a.openService(ctx); err != nil {
				return err
			}

			if a.jsonOutput {
				return writeJSON(cmd, result)
			}
			if len(result.Applied) == 0 {
				return writePlain(out, "Already at version %d.\n", result.To)
			}
			return writePlain(out, "Migrated from version %d to %d.\n", result.From, result.To)
		},
	}

	cmd.Flags().BoolVar(&planOnly, "plan", false, "show pending migrations without applying")
	return cmd
}
