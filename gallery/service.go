// Package gallery is the photo gallery data layer: photos, categories and
// thumbnails on top of a gallerydb database, the schema steps that create
// them, default category reconciliation and the upload ingestion pipeline.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smartgallery/gallerydb"
	"github.com/smartgallery/gallerydb/codec"
)

// ErrDuplicateName rejects a category name already used by another category,
// compared trimmed and case-insensitively
var ErrDuplicateName = fmt.Errorf("%w: duplicate category name", gallerydb.ErrValidation)

// DefaultMaxFiles is the number of files one ingestion batch keeps
const DefaultMaxFiles = 10

// Options configures a Service
type Options struct {
	// Transcoder derives originals and thumbnails (default codec.DefaultTranscoder)
	Transcoder *codec.Transcoder
	// MaxFiles caps one ingestion batch; extra files are dropped (default 10)
	MaxFiles int
	// Now stamps uploads and seeded categories (default time.Now)
	Now func() time.Time
}

// Service is the surface the gallery UI and the CLI call into
type Service struct {
	db         *gallerydb.DB
	cascades   *gallerydb.CascadeManager
	transcoder *codec.Transcoder
	logger     gallerydb.Logger
	metrics    gallerydb.Metrics
	maxFiles   int
	now        func() time.Time
}

// NewService wraps an already migrated database
func NewService(db *gallerydb.DB, opts Options) (*Service, error) {
	if opts.Transcoder == nil {
		opts.Transcoder = codec.DefaultTranscoder()
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cascades := gallerydb.NewCascadeManager(db)
	if err := cascades.Register(StorePhotos, gallerydb.CascadeSpec{
		ChildStore:      StoreThumbnails,
		ForeignKeyField: "photoId",
	}); err != nil {
		return nil, err
	}

	return &Service{
		db:         db,
		cascades:   cascades,
		transcoder: opts.Transcoder,
		logger:     db.Logger(),
		metrics:    db.Metrics(),
		maxFiles:   opts.MaxFiles,
		now:        opts.Now,
	}, nil
}

// Open migrates db to LatestVersion, restores missing default categories and
// returns a ready Service
func Open(ctx context.Context, db *gallerydb.DB, opts Options) (*Service, error) {
	svc, err := NewService(db, opts)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(ctx, Migrations(svc.now), LatestVersion); err != nil {
		return nil, err
	}
	if _, err := svc.RestoreDefaultCategories(ctx); err != nil {
		return nil, fmt.Errorf("restore default categories: %w", err)
	}
	return svc, nil
}

// DB returns the underlying database
func (s *Service) DB() *gallerydb.DB {
	return s.db
}

// --- photos ---

// AddPhoto stores a new photo and returns its identity. The upload timestamp
// is set when zero and the original size is derived from its data.
func (s *Service) AddPhoto(ctx context.Context, p Photo) (int64, error) {
	if p.UploadTimestamp.IsZero() {
		p.UploadTimestamp = s.now().UTC()
	}
	p.Original.Size = len(p.Original.Data)
	p.Thumbnail = nil
	return s.db.Add(ctx, StorePhotos, p)
}

// GetPhoto returns one photo with its thumbnail filled in when present
func (s *Service) GetPhoto(ctx context.Context, id int64) (Photo, error) {
	var photo Photo
	err := s.db.View(ctx, func(tx *gallerydb.Tx) error {
		var err error
		if photo, err = gallerydb.Get[Photo](tx, StorePhotos, id); err != nil {
			return err
		}
		return fillThumbnails(tx, []*Photo{&photo})
	})
	return photo, err
}

// GetAllPhotos returns every photo in ascending identity order with
// thumbnails filled in
func (s *Service) GetAllPhotos(ctx context.Context) ([]Photo, error) {
	return s.viewPhotos(ctx, func(tx *gallerydb.Tx) ([]Photo, error) {
		return gallerydb.GetAll[Photo](tx, StorePhotos)
	})
}

// GetPhotosByCategory returns the photos whose categoryId equals categoryID
func (s *Service) GetPhotosByCategory(ctx context.Context, categoryID int64) ([]Photo, error) {
	return s.viewPhotos(ctx, func(tx *gallerydb.Tx) ([]Photo, error) {
		return gallerydb.QueryIndex[Photo](tx, StorePhotos, IndexPhotosByCategory, categoryID)
	})
}

// GetPhotosByDate returns the photos taken on date
func (s *Service) GetPhotosByDate(ctx context.Context, date string) ([]Photo, error) {
	return s.viewPhotos(ctx, func(tx *gallerydb.Tx) ([]Photo, error) {
		return gallerydb.QueryIndex[Photo](tx, StorePhotos, IndexPhotosByDate, date)
	})
}

func (s *Service) viewPhotos(ctx context.Context, load func(tx *gallerydb.Tx) ([]Photo, error)) ([]Photo, error) {
	var photos []Photo
	err := s.db.View(ctx, func(tx *gallerydb.Tx) error {
		var err error
		if photos, err = load(tx); err != nil {
			return err
		}
		ptrs := make([]*Photo, len(photos))
		for i := range photos {
			ptrs[i] = &photos[i]
		}
		return fillThumbnails(tx, ptrs)
	})
	return photos, err
}

func fillThumbnails(tx *gallerydb.Tx, photos []*Photo) error {
	for _, p := range photos {
		thumb, err := gallerydb.Get[Thumbnail](tx, StoreThumbnails, p.ID)
		if err != nil {
			if gallerydb.IsNotFound(err) {
				continue
			}
			return err
		}
		p.Thumbnail = thumb.Data
	}
	return nil
}

// UpdatePhoto fully replaces an existing photo. The identity and the upload
// timestamp of the stored record are kept.
func (s *Service) UpdatePhoto(ctx context.Context, p Photo) error {
	if p.ID == 0 {
		return fmt.Errorf("%w: photo id is required", gallerydb.ErrValidation)
	}
	return s.db.Update(ctx, func(tx *gallerydb.Tx) error {
		stored, err := gallerydb.Get[Photo](tx, StorePhotos, p.ID)
		if err != nil {
			return err
		}
		p.UploadTimestamp = stored.UploadTimestamp
		p.Original.Size = len(p.Original.Data)
		p.Thumbnail = nil
		_, err = tx.Put(StorePhotos, p)
		return err
	})
}

// DeletePhoto removes a photo and its thumbnail atomically
func (s *Service) DeletePhoto(ctx context.Context, id int64) error {
	if err := s.cascades.DeleteWithCascade(ctx, StorePhotos, id); err != nil {
		return fmt.Errorf("delete photo %d: %w", id, err)
	}
	s.logger.Info("photo deleted", "id", id)
	return nil
}

// --- thumbnails ---

// AddThumbnail stores (or replaces) the thumbnail of a photo
func (s *Service) AddThumbnail(ctx context.Context, t Thumbnail) error {
	if t.PhotoID <= 0 {
		return fmt.Errorf("%w: thumbnail photo id is required", gallerydb.ErrValidation)
	}
	_, err := s.db.Put(ctx, StoreThumbnails, t)
	return err
}

// GetThumbnail returns the thumbnail of a photo
func (s *Service) GetThumbnail(ctx context.Context, photoID int64) (Thumbnail, error) {
	var t Thumbnail
	err := s.db.Get(ctx, StoreThumbnails, photoID, &t)
	return t, err
}

// --- categories ---

// AddCategory creates a user category. Reserved identities cannot be
// supplied and names must be unique.
func (s *Service) AddCategory(ctx context.Context, c Category) (int64, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	if c.Name == "" {
		return 0, fmt.Errorf("%w: category name is required", gallerydb.ErrValidation)
	}
	if IsReservedCategory(c.ID) {
		return 0, fmt.Errorf("%w: category id %d is reserved", gallerydb.ErrValidation, c.ID)
	}
	if c.CreationDate.IsZero() {
		c.CreationDate = s.now().UTC()
	}

	var id int64
	err := s.db.Update(ctx, func(tx *gallerydb.Tx) error {
		if err := checkUniqueName(tx, c.Name, 0); err != nil {
			return err
		}
		var err error
		id, err = tx.Add(StoreCategories, c)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("category added", "id", id, "name", c.Name)
	return id, nil
}

// GetCategory returns one category
func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := s.db.Get(ctx, StoreCategories, id, &c)
	return c, err
}

// GetAllCategories returns every category in ascending identity order
func (s *Service) GetAllCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := s.db.View(ctx, func(tx *gallerydb.Tx) error {
		var err error
		out, err = gallerydb.GetAll[Category](tx, StoreCategories)
		return err
	})
	return out, err
}

// UpdateCategory replaces an existing category. Defaults may be renamed.
// A zero creation date keeps the stored one.
func (s *Service) UpdateCategory(ctx context.Context, c Category) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Description = strings.TrimSpace(c.Description)
	if c.ID == 0 {
		return fmt.Errorf("%w: category id is required", gallerydb.ErrValidation)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: category name is required", gallerydb.ErrValidation)
	}
	return s.db.Update(ctx, func(tx *gallerydb.Tx) error {
		stored, err := gallerydb.Get[Category](tx, StoreCategories, c.ID)
		if err != nil {
			return err
		}
		if c.CreationDate.IsZero() {
			c.CreationDate = stored.CreationDate
		}
		if err := checkUniqueName(tx, c.Name, c.ID); err != nil {
			return err
		}
		_, err = tx.Put(StoreCategories, c)
		return err
	})
}

// DeleteCategory removes a user category. Reserved categories are refused
// with ErrProtected. Photos that still reference the category keep their
// categoryId.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if IsReservedCategory(id) {
		return gallerydb.WithContext(gallerydb.ErrProtected, map[string]interface{}{
			"id":      id,
			"message": "default categories cannot be deleted",
		})
	}
	if err := s.db.Delete(ctx, StoreCategories, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", "id", id)
	return nil
}

// RestoreDefaultCategories re-creates every default category whose identity
// is missing and returns how many were restored
func (s *Service) RestoreDefaultCategories(ctx context.Context) (int, error) {
	var restored int
	err := s.db.Update(ctx, func(tx *gallerydb.Tx) error {
		var err error
		restored, err = seedDefaults(tx, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	if restored > 0 {
		s.logger.Info("default categories restored", "count", restored)
	}
	return restored, nil
}

func checkUniqueName(tx *gallerydb.Tx, name string, self int64) error {
	all, err := gallerydb.GetAll[Category](tx, StoreCategories)
	if err != nil {
		return err
	}
	for _, c := range all {
		if c.ID != self && strings.EqualFold(strings.TrimSpace(c.Name), name) {
			return fmt.Errorf("%w: %q is used by category %d", ErrDuplicateName, name, c.ID)
		}
	}
	return nil
}

// --- stats ---

// Stats summarizes the stored gallery
type Stats struct {
	SchemaVersion     int           `json:"schemaVersion"`
	Photos            int           `json:"photos"`
	Categories        int           `json:"categories"`
	Thumbnails        int           `json:"thumbnails"`
	DegradedPhotos    []int64       `json:"degradedPhotos"`
	OrphanThumbnails  []int64       `json:"orphanThumbnails"`
	OriginalsSizeMiB  float64       `json:"originalsSizeMiB"`
	PhotosPerCategory map[int64]int `json:"photosPerCategory"`
	// Cascades lists, per parent store, the stores deleted along with it
	Cascades map[string][]string `json:"cascades"`
}

// Stats reads every store once and reports counts and integrity findings
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		SchemaVersion:     s.db.Version(),
		DegradedPhotos:    []int64{},
		OrphanThumbnails:  []int64{},
		PhotosPerCategory: make(map[int64]int),
		Cascades:          s.cascades.GetCascadeTree(),
	}
	err := s.db.View(ctx, func(tx *gallerydb.Tx) error {
		photos, err := gallerydb.GetAll[Photo](tx, StorePhotos)
		if err != nil {
			return err
		}
		thumbIDs, err := tx.IDs(StoreThumbnails)
		if err != nil {
			return err
		}
		if st.Categories, err = tx.Count(StoreCategories); err != nil {
			return err
		}

		hasThumb := make(map[int64]bool, len(thumbIDs))
		for _, id := range thumbIDs {
			hasThumb[id] = true
		}
		photoIDs := make(map[int64]bool, len(photos))
		var size float64
		for _, p := range photos {
			photoIDs[p.ID] = true
			st.PhotosPerCategory[p.CategoryID]++
			size += codec.EncodedSizeMiB(p.Original.Data)
			if !hasThumb[p.ID] {
				st.DegradedPhotos = append(st.DegradedPhotos, p.ID)
			}
		}
		for _, id := range thumbIDs {
			if !photoIDs[id] {
				st.OrphanThumbnails = append(st.OrphanThumbnails, id)
			}
		}

		st.Photos = len(photos)
		st.Thumbnails = len(thumbIDs)
		st.OriginalsSizeMiB = roundMiB(size)
		return nil
	})
	return st, err
}

// CascadeTree renders the cascade deletes DeletePhoto performs
func (s *Service) CascadeTree() string {
	return s.cascades.PrintCascadeTree()
}

// IsValidation reports whether err rejects caller input
func IsValidation(err error) bool {
	return errors.Is(err, gallerydb.ErrValidation)
}
