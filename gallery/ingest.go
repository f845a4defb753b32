package gallery

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smartgallery/gallerydb"
	"github.com/smartgallery/gallerydb/codec"
)

// Upload is one raw file of an ingestion batch
type Upload struct {
	Name string
	Data []byte
}

// IngestRequest is the shared metadata of an upload batch plus its files
type IngestRequest struct {
	Date         string
	Location     string
	Photographer string
	CategoryID   int64
	Files        []Upload
}

// Validate rejects a request with any missing field
func (r IngestRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(r.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(r.Photographer) == "" {
		missing = append(missing, "photographer")
	}
	if r.CategoryID <= 0 {
		missing = append(missing, "categoryId")
	}
	if len(r.Files) == 0 {
		missing = append(missing, "files")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", gallerydb.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Ingestion stages a file can fail in
const (
	StageOriginal  = "original"
	StageThumbnail = "thumbnail"
	StagePhoto     = "photo"
)

// FileError is the failure of one file in a batch
type FileError struct {
	Index    int
	Filename string
	Stage    string
	Err      error
}

func (e FileError) Error() string {
	return fmt.Sprintf("file %d (%s) failed at %s: %v", e.Index, e.Filename, e.Stage, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// IngestReport is the outcome of one batch
type IngestReport struct {
	BatchID      string
	Ingested     int
	TotalSizeMiB float64
	PhotoIDs     []int64
	// Degraded lists photos stored without a thumbnail
	Degraded []int64
	Failures []FileError
	// Dropped counts files beyond the batch cap
	Dropped int
}

// Ingest transcodes and stores every file of a batch, one at a time.
//
// The request is validated before any I/O. Files beyond the batch cap are
// dropped. A file that fails is recorded in the report and does not stop
// the batch; files already stored are kept. A photo whose thumbnail cannot
// be stored is kept as degraded.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	report := &IngestReport{
		BatchID:  gallerydb.NewID(),
		PhotoIDs: []int64{},
	}
	files := req.Files
	if len(files) > s.maxFiles {
		report.Dropped = len(files) - s.maxFiles
		files = files[:s.maxFiles]
	}

	batchStart := time.Now()
	var total float64
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			report.TotalSizeMiB = roundMiB(total)
			return report, err
		}

		start := time.Now()
		id, sizeMiB, thumbErr, ferr := s.ingestFile(ctx, req, f, &total)
		s.metrics.Timing(gallerydb.MetricIngestDuration, time.Since(start))

		switch {
		case ferr != nil:
			ferr.Index = i
			report.Failures = append(report.Failures, *ferr)
			s.metrics.Increment(gallerydb.MetricIngestFiles, "outcome", "failed")
			s.logger.Error("file ingestion failed",
				"batch", report.BatchID,
				"file", f.Name,
				"stage", ferr.Stage,
				"error", ferr.Err,
			)
		case thumbErr != nil:
			report.Ingested++
			report.PhotoIDs = append(report.PhotoIDs, id)
			report.Degraded = append(report.Degraded, id)
			s.metrics.Increment(gallerydb.MetricIngestFiles, "outcome", "degraded")
			s.logger.Warn("photo stored without thumbnail",
				"batch", report.BatchID,
				"file", f.Name,
				"id", id,
				"sizeMiB", sizeMiB,
				"error", thumbErr,
			)
		default:
			report.Ingested++
			report.PhotoIDs = append(report.PhotoIDs, id)
			s.metrics.Increment(gallerydb.MetricIngestFiles, "outcome", "ok")
			s.logger.Info("photo ingested",
				"batch", report.BatchID,
				"file", f.Name,
				"id", id,
				"sizeMiB", sizeMiB,
			)
		}
	}

	report.TotalSizeMiB = roundMiB(total)
	s.logger.Info("ingestion batch finished",
		"batch", report.BatchID,
		"ingested", report.Ingested,
		"failed", len(report.Failures),
		"degraded", len(report.Degraded),
		"dropped", report.Dropped,
		"totalSizeMiB", report.TotalSizeMiB,
		"duration", time.Since(batchStart),
	)
	return report, nil
}

// ingestFile runs the per-file steps: original, thumbnail, size accounting,
// photo insert, thumbnail insert. A non-nil thumbErr means the photo was
// stored without its thumbnail.
func (s *Service) ingestFile(ctx context.Context, req IngestRequest, f Upload, total *float64) (id int64, sizeMiB float64, thumbErr error, ferr *FileError) {
	original, err := s.transcoder.Original(f.Data)
	if err != nil {
		return 0, 0, nil, &FileError{Filename: f.Name, Stage: StageOriginal, Err: err}
	}
	thumb, err := s.transcoder.Thumbnail(f.Data)
	if err != nil {
		return 0, 0, nil, &FileError{Filename: f.Name, Stage: StageThumbnail, Err: err}
	}

	sizeMiB = codec.EncodedSizeMiB(original)
	*total += sizeMiB
	s.metrics.Histogram(gallerydb.MetricIngestSizeMiB, sizeMiB)

	id, err = s.AddPhoto(ctx, Photo{
		Filename:     f.Name,
		Original:     Asset{Data: original},
		Date:         strings.TrimSpace(req.Date),
		Location:     strings.TrimSpace(req.Location),
		Photographer: strings.TrimSpace(req.Photographer),
		CategoryID:   req.CategoryID,
	})
	if err != nil {
		return 0, sizeMiB, nil, &FileError{Filename: f.Name, Stage: StagePhoto, Err: err}
	}

	if _, err := s.db.Add(ctx, StoreThumbnails, Thumbnail{PhotoID: id, Data: thumb}); err != nil {
		return id, sizeMiB, err, nil
	}
	return id, sizeMiB, nil, nil
}

func roundMiB(v float64) float64 {
	return math.Round(v*100) / 100
}
