package gallery

import (
	"fmt"
	"time"

	"github.com/smartgallery/gallerydb"
)

// LatestVersion is the schema version this package expects
const LatestVersion = 3

// Migrations returns the schema steps. now stamps seeded categories.
func Migrations(now func() time.Time) []gallerydb.Migration {
	if now == nil {
		now = time.Now
	}
	return []gallerydb.Migration{
		{
			Version:     1,
			Description: "initial stores",
			Up: func(tx *gallerydb.Tx) error {
				return migrateInitialStores(tx, now())
			},
		},
		{
			Version:     2,
			Description: "non-unique category names",
			Up: func(tx *gallerydb.Tx) error {
				return migrateCategoryNames(tx, now())
			},
		},
		{
			Version:     3,
			Description: "photos by date",
			Up:          migratePhotosByDate,
		},
	}
}

func migrateInitialStores(tx *gallerydb.Tx, now time.Time) error {
	stores := []gallerydb.StoreDef{
		{
			Name:          StorePhotos,
			KeyPath:       "id",
			AutoIncrement: true,
			Indexes:       []gallerydb.IndexDef{{Name: IndexPhotosByCategory, Field: "categoryId"}},
		},
		{
			Name:          StoreCategories,
			KeyPath:       "id",
			AutoIncrement: true,
			Indexes:       []gallerydb.IndexDef{{Name: IndexCategoriesByName, Field: "name", Unique: true}},
		},
		{
			Name:    StoreThumbnails,
			KeyPath: "photoId",
		},
	}
	for _, def := range stores {
		if err := tx.CreateStore(def); err != nil {
			return fmt.Errorf("create store %s: %w", def.Name, err)
		}
	}
	_, err := seedDefaults(tx, now)
	return err
}

// migrateCategoryNames rebuilds the categories store without the unique name
// constraint. Existing rows are copied forward so user categories survive
// the rebuild.
func migrateCategoryNames(tx *gallerydb.Tx, now time.Time) error {
	rows, err := tx.GetAll(StoreCategories)
	if err != nil {
		return fmt.Errorf("read categories: %w", err)
	}
	if err := tx.DeleteStore(StoreCategories); err != nil {
		return fmt.Errorf("drop categories: %w", err)
	}
	if err := tx.CreateStore(gallerydb.StoreDef{
		Name:          StoreCategories,
		KeyPath:       "id",
		AutoIncrement: true,
		Indexes:       []gallerydb.IndexDef{{Name: IndexCategoriesByName, Field: "name"}},
	}); err != nil {
		return fmt.Errorf("recreate categories: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.Put(StoreCategories, row); err != nil {
			return fmt.Errorf("copy category forward: %w", err)
		}
	}
	_, err = seedDefaults(tx, now)
	return err
}

func migratePhotosByDate(tx *gallerydb.Tx) error {
	return tx.CreateIndex(StorePhotos, gallerydb.IndexDef{Name: IndexPhotosByDate, Field: "date"})
}
