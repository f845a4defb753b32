package gallery

import (
	"fmt"
	"time"

	"github.com/smartgallery/gallerydb"
)

// Reserved category identities
const (
	FirstReservedCategoryID int64 = 1
	LastReservedCategoryID  int64 = 7
)

// DefaultCategory is one of the built-in categories
type DefaultCategory struct {
	ID          int64
	Name        string
	Description string
}

// DefaultCategories are seeded by migration and restored at startup
var DefaultCategories = []DefaultCategory{
	{ID: 1, Name: "가족", Description: "가족 사진"},
	{ID: 2, Name: "인물", Description: "인물 사진"},
	{ID: 3, Name: "풍경", Description: "풍경 사진"},
	{ID: 4, Name: "식물", Description: "식물 사진"},
	{ID: 5, Name: "조류", Description: "조류 사진"},
	{ID: 6, Name: "여행", Description: "여행 사진"},
	{ID: 7, Name: "기타", Description: "기타 사진"},
}

// IsReservedCategory reports whether id belongs to a default category
func IsReservedCategory(id int64) bool {
	return id >= FirstReservedCategoryID && id <= LastReservedCategoryID
}

// seedDefaults puts every default category whose identity is absent and
// returns how many were written. Present identities, renamed or not, are
// left alone.
func seedDefaults(tx *gallerydb.Tx, now time.Time) (int, error) {
	seeded := 0
	for _, d := range DefaultCategories {
		ok, err := tx.Exists(StoreCategories, d.ID)
		if err != nil {
			return seeded, err
		}
		if ok {
			continue
		}
		if _, err := tx.Put(StoreCategories, Category{
			ID:           d.ID,
			Name:         d.Name,
			Description:  d.Description,
			CreationDate: now,
		}); err != nil {
			return seeded, fmt.Errorf("seed category %d (%s): %w", d.ID, d.Name, err)
		}
		seeded++
	}
	return seeded, nil
}
