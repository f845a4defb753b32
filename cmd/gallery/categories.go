package main

import (
	"github.com/spf13/cobra"

	"github.com/smartgallery/gallerydb/gallery"
)

func newCategoriesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"category"},
		Short:   "Manage photo categories",
	}
	cmd.AddCommand(
		newCategoriesListCmd(a),
		newCategoriesAddCmd(a),
		newCategoriesRenameCmd(a),
		newCategoriesDeleteCmd(a),
		newCategoriesRestoreCmd(a),
	)
	return cmd
}

func newCategoriesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			categories, err := svc.GetAllCategories(ctx)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				if categories == nil {
					categories = []gallery.Category{}
				}
				return writeJSON(cmd, categories)
			}
			for _, c := range categories {
				marker := ""
				if gallery.IsReservedCategory(c.ID) {
					marker = " (default)"
				}
				if err := writePlain(cmd.OutOrStdout(), "%d  %s%s\n", c.ID, c.Name, marker); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newCategoriesAddCmd(a *app) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			id, err := svc.AddCategory(ctx, gallery.Category{Name: args[0], Description: description})
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, map[string]int64{"id": id})
			}
			return writePlain(cmd.OutOrStdout(), "Created category %d\n", id)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "category description")
	return cmd
}

func newCategoriesRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			c, err := svc.GetCategory(ctx, id)
			if err != nil {
				return err
			}
			c.Name = args[1]
			if err := svc.UpdateCategory(ctx, c); err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, c)
			}
			return writePlain(cmd.OutOrStdout(), "Renamed category %d to %s\n", id, c.Name)
		},
	}
}

func newCategoriesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a user category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			if err := svc.DeleteCategory(ctx, id); err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, map[string]int64{"deleted": id})
			}
			return writePlain(cmd.OutOrStdout(), "Deleted category %d\n", id)
		},
	}
}

func newCategoriesRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Re-create missing default categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx, false)
			if err != nil {
				return err
			}
			restored, err := svc.RestoreDefaultCategories(ctx)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, map[string]int{"restored": restored})
			}
			return writePlain(cmd.OutOrStdout(), "Restored %d default categor%s\n", restored, plural(restored, "y", "ies"))
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
