package main

import (
	"sort"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var withMetrics bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored photos, categories and thumbnails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			st, err := svc.Stats(ctx)
			if err != nil {
				return err
			}

			if a.jsonOutput && !withMetrics {
				return writeJSON(cmd, st)
			}

			w := cmd.OutOrStdout()
			if !a.jsonOutput {
				writePlain(w, "Schema version:    %d\n", st.SchemaVersion)
				writePlain(w, "Photos:            %d (%.2f MiB)\n", st.Photos, st.OriginalsSizeMiB)
				writePlain(w, "Categories:        %d\n", st.Categories)
				writePlain(w, "Thumbnails:        %d\n", st.Thumbnails)
				writePlain(w, "Without thumbnail: %v\n", st.DegradedPhotos)
				writePlain(w, "Orphan thumbnails: %v\n", st.OrphanThumbnails)

				ids := make([]int64, 0, len(st.PhotosPerCategory))
				for id := range st.PhotosPerCategory {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				for _, id := range ids {
					writePlain(w, "  category %d: %d\n", id, st.PhotosPerCategory[id])
				}
				writePlain(w, "Cascade deletes:\n%s", svc.CascadeTree())
			}
			if !withMetrics {
				return nil
			}

			families, err := a.metrics.GetRegistry().Gather()
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, map[string]any{"stats": st, "metrics": families})
			}
			writePlain(w, "\n")
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "also print the metrics recorded by this run")
	return cmd
}
