// Package export writes a gallery database out as plain files: a text
// description of its stores and a directory of image files with a manifest.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/smartgallery/gallerydb"
	"github.com/smartgallery/gallerydb/gallery"
)

const manifestName = "manifest.json"

// ExportSchema describes every store of db, sorted by name
func ExportSchema(ctx context.Context, db *gallerydb.DB) (string, error) {
	var defs []gallerydb.StoreDef
	err := db.View(ctx, func(tx *gallerydb.Tx) error {
		for _, name := range tx.StoreNames() {
			def, err := tx.Store(name)
			if err != nil {
				return err
			}
			defs = append(defs, def)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("-- gallery schema version %d\n\n", db.Version()))
	for i, def := range defs {
		sb.WriteString(StoreToText(def))
		if i < len(defs)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// StoreToText renders one store definition and its indexes
func StoreToText(def gallerydb.StoreDef) string {
	var sb strings.Builder

	parts := []string{"STORE", def.Name, "KEY", def.KeyPath}
	if def.AutoIncrement {
		parts = append(parts, "AUTOINCREMENT")
	}
	sb.WriteString(strings.Join(parts, " "))
	sb.WriteString("\n")

	indexes := append([]gallerydb.IndexDef(nil), def.Indexes...)
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
	for _, idx := range indexes {
		sb.WriteString(indexToText(idx))
		sb.WriteString("\n")
	}
	return sb.String()
}

func indexToText(idx gallerydb.IndexDef) string {
	parts := []string{"  INDEX", idx.Name, "ON", idx.Field}
	if idx.Unique {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " ")
}

// ManifestEntry is one exported photo
type ManifestEntry struct {
	ID           int64  `json:"id"`
	Filename     string `json:"filename"`
	Original     string `json:"original"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	Date         string `json:"date"`
	Location     string `json:"location"`
	Photographer string `json:"photographer"`
	Category     string `json:"category"`
}

// Manifest lists everything ExportPhotos wrote
type Manifest struct {
	SchemaVersion int             `json:"schemaVersion"`
	Photos        []ManifestEntry `json:"photos"`
}

// ExportPhotos writes the original and thumbnail of every photo (or only
// those in categoryID when it is non-zero) into dir, followed by
// manifest.json. Degraded photos are exported without a thumbnail.
func ExportPhotos(ctx context.Context, svc *gallery.Service, dir string, categoryID int64) (*Manifest, error) {
	var (
		photos []gallery.Photo
		err    error
	)
	if categoryID != 0 {
		photos, err = svc.GetPhotosByCategory(ctx, categoryID)
	} else {
		photos, err = svc.GetAllPhotos(ctx)
	}
	if err != nil {
		return nil, err
	}

	categories, err := svc.GetAllCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	if err := os.MkdirAll(dir, gallerydb.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	manifest := &Manifest{SchemaVersion: svc.DB().Version(), Photos: []ManifestEntry{}}
	for _, p := range photos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := ManifestEntry{
			ID:           p.ID,
			Filename:     p.Filename,
			Original:     fmt.Sprintf("%06d-%s", p.ID, safeName(p.Filename)),
			Date:         p.Date,
			Location:     p.Location,
			Photographer: p.Photographer,
			Category:     names[p.CategoryID],
		}
		if err := writeFile(dir, entry.Original, p.Original.Data); err != nil {
			return nil, err
		}
		if p.HasThumbnail() {
			entry.Thumbnail = fmt.Sprintf("%06d-thumb.jpg", p.ID)
			if err := writeFile(dir, entry.Thumbnail, p.Thumbnail); err != nil {
				return nil, err
			}
		}
		manifest.Photos = append(manifest.Photos, entry)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeFile(dir, manifestName, data); err != nil {
		return nil, err
	}
	return manifest, nil
}

func writeFile(dir, name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), data, gallerydb.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// safeName keeps only the base name and replaces path separators
func safeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "photo"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
}
