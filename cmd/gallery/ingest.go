package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/smartgallery/gallerydb/gallery"
)

type fileFailure struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

type ingestOutput struct {
	BatchID      string        `json:"batchId"`
	Ingested     int           `json:"ingested"`
	TotalSizeMiB float64       `json:"totalSizeMiB"`
	PhotoIDs     []int64       `json:"photoIds"`
	Degraded     []int64       `json:"degraded"`
	Failures     []fileFailure `json:"failures"`
	Dropped      int           `json:"dropped"`
}

func newIngestCmd(a *app) *cobra.Command {
	var req gallery.IngestRequest

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Transcode and store a batch of image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Files over the batch cap are never read
			paths, skipped := args, 0
			if limit := a.cfg.Ingest.MaxFiles; len(paths) > limit {
				skipped = len(paths) - limit
				paths = paths[:limit]
			}
			for _, path := range paths {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				req.Files = append(req.Files, gallery.Upload{Name: filepath.Base(path), Data: data})
			}
			if err := req.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			report, err := svc.Ingest(ctx, req)
			if err != nil {
				return err
			}

			out := ingestOutput{
				BatchID:      report.BatchID,
				Ingested:     report.Ingested,
				TotalSizeMiB: report.TotalSizeMiB,
				PhotoIDs:     report.PhotoIDs,
				Degraded:     append([]int64{}, report.Degraded...),
				Failures:     []fileFailure{},
				Dropped:      report.Dropped + skipped,
			}
			for _, f := range report.Failures {
				out.Failures = append(out.Failures, fileFailure{
					Index:    f.Index,
					Filename: f.Filename,
					Stage:    f.Stage,
					Error:    f.Err.Error(),
				})
			}

			if a.jsonOutput {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			writePlain(w, "Batch %s: ingested %d file(s), %.2f MiB\n", out.BatchID, out.Ingested, out.TotalSizeMiB)
			if out.Dropped > 0 {
				writePlain(w, "Dropped %d file(s) over the batch limit\n", out.Dropped)
			}
			for _, id := range out.Degraded {
				writePlain(w, "Photo %d stored without thumbnail\n", id)
			}
			for _, f := range out.Failures {
				writePlain(w, "Failed %s at %s: %s\n", f.Filename, f.Stage, f.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Date, "date", "", "capture date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.Location, "location", "", "where the photos were taken")
	cmd.Flags().StringVar(&req.Photographer, "photographer", "", "who took the photos")
	cmd.Flags().Int64Var(&req.CategoryID, "category", 0, "category id")
	return cmd
}
