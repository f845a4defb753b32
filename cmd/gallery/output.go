package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartgallery/gallerydb"
	"github.com/smartgallery/gallerydb/gallery"
)

func writeJSON(cmd *cobra.Command, payload any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func writePlain(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", gallerydb.ErrValidation, raw)
	}
	return id, nil
}

// photoSummary is a photo without its image bytes
type photoSummary struct {
	ID              int64     `json:"id"`
	Filename        string    `json:"filename"`
	Date            string    `json:"date"`
	Location        string    `json:"location"`
	Photographer    string    `json:"photographer"`
	CategoryID      int64     `json:"categoryId"`
	SizeBytes       int       `json:"sizeBytes"`
	HasThumbnail    bool      `json:"hasThumbnail"`
	UploadTimestamp time.Time `json:"uploadTimestamp"`
}

func summarize(p gallery.Photo) photoSummary {
	return photoSummary{
		ID:              p.ID,
		Filename:        p.Filename,
		Date:            p.Date,
		Location:        p.Location,
		Photographer:    p.Photographer,
		CategoryID:      p.CategoryID,
		SizeBytes:       p.Original.Size,
		HasThumbnail:    p.HasThumbnail(),
		UploadTimestamp: p.UploadTimestamp,
	}
}

func formatPhotoLine(p photoSummary) string {
	thumb := ""
	if !p.HasThumbnail {
		thumb = " (no thumbnail)"
	}
	return fmt.Sprintf("%d  %s  %s  %s  %s  category=%d%s",
		p.ID, p.Date, p.Filename, p.Location, p.Photographer, p.CategoryID, thumb)
}
