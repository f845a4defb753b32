package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartgallery/gallerydb/gallery"
	"github.com/smartgallery/gallerydb/internal/export"
)

func newPhotosCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photos",
		Short: "List, inspect, delete and export photos",
	}
	cmd.AddCommand(
		newPhotosListCmd(a),
		newPhotosShowCmd(a),
		newPhotosDeleteCmd(a),
		newPhotosExportCmd(a),
	)
	return cmd
}

func newPhotosListCmd(a *app) *cobra.Command {
	var (
		categoryID int64
		date       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List photos, optionally by category or date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if categoryID != 0 && date != "" {
				return fmt.Errorf("--category and --date cannot be combined")
			}
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}

			var photos []gallery.Photo
			switch {
			case categoryID != 0:
				photos, err = svc.GetPhotosByCategory(ctx, categoryID)
			case date != "":
				photos, err = svc.GetPhotosByDate(ctx, date)
			default:
				photos, err = svc.GetAllPhotos(ctx)
			}
			if err != nil {
				return err
			}

			summaries := make([]photoSummary, 0, len(photos))
			for _, p := range photos {
				summaries = append(summaries, summarize(p))
			}
			if a.jsonOutput {
				return writeJSON(cmd, summaries)
			}
			for _, s := range summaries {
				if err := writePlain(cmd.OutOrStdout(), "%s\n", formatPhotoLine(s)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&categoryID, "category", 0, "only photos in this category")
	cmd.Flags().StringVar(&date, "date", "", "only photos taken on this date")
	return cmd
}

func newPhotosShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one photo",
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
			photo, err := svc.GetPhoto(ctx, id)
			if err != nil {
				return err
			}

			s := summarize(photo)
			if a.jsonOutput {
				return writeJSON(cmd, s)
			}
			w := cmd.OutOrStdout()
			writePlain(w, "ID:           %d\n", s.ID)
			writePlain(w, "Filename:     %s\n", s.Filename)
			writePlain(w, "Date:         %s\n", s.Date)
			writePlain(w, "Location:     %s\n", s.Location)
			writePlain(w, "Photographer: %s\n", s.Photographer)
			writePlain(w, "Category:     %d\n", s.CategoryID)
			writePlain(w, "Size:         %d bytes\n", s.SizeBytes)
			writePlain(w, "Thumbnail:    %t\n", s.HasThumbnail)
			return writePlain(w, "Uploaded:     %s\n", s.UploadTimestamp.Format("2006-01-02 15:04:05"))
		},
	}
}

func newPhotosDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a photo and its thumbnail",
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
			if err := svc.DeletePhoto(ctx, id); err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, map[string]int64{"deleted": id})
			}
			return writePlain(cmd.OutOrStdout(), "Deleted photo %d\n", id)
		},
	}
}

func newPhotosExportCmd(a *app) *cobra.Command {
	var (
		categoryID int64
		schemaOnly bool
	)

	cmd := &cobra.Command{
		Use:   "export [DIR]",
		Short: "Write photo files and a manifest to DIR, or print the schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}

			if schemaOnly {
				text, err := export.ExportSchema(ctx, svc.DB())
				if err != nil {
					return err
				}
				return writePlain(cmd.OutOrStdout(), "%s", text)
			}
			if len(args) == 0 {
				return fmt.Errorf("export directory is required")
			}

			manifest, err := export.ExportPhotos(ctx, svc, args[0], categoryID)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, manifest)
			}
			return writePlain(cmd.OutOrStdout(), "Exported %d photo(s) to %s\n", len(manifest.Photos), args[0])
		},
	}

	cmd.Flags().Int64Var(&categoryID, "category", 0, "only photos in this category")
	cmd.Flags().BoolVar(&schemaOnly, "schema", false, "print store and index definitions instead")
	return cmd
}
