package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartgallery/gallerydb"
	"github.com/smartgallery/gallerydb/gallery"
)

func setupTestService(t *testing.T) *gallery.Service {
	t.Helper()

	ctx := context.Background()
	db, err := gallerydb.Open(ctx, gallerydb.NewMemoryBackend())
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc, err := gallery.Open(ctx, db, gallery.Options{})
	if err != nil {
		t.Fatalf("Failed to open gallery: %v", err)
	}
	return svc
}

func addPhoto(t *testing.T, svc *gallery.Service, filename string, category int64, thumb []byte) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := svc.AddPhoto(ctx, gallery.Photo{
		Filename:     filename,
		Original:     gallery.Asset{Data: []byte("original:" + filename)},
		Date:         "2025-05-01",
		Location:     "Busan",
		Photographer: "Lee",
		CategoryID:   category,
	})
	if err != nil {
		t.Fatalf("Failed to add photo: %v", err)
	}
	if thumb != nil {
		if err := svc.AddThumbnail(ctx, gallery.Thumbnail{PhotoID: id, Data: thumb}); err != nil {
			t.Fatalf("Failed to add thumbnail: %v", err)
		}
	}
	return id
}

func TestExportSchema(t *testing.T) {
	svc := setupTestService(t)

	output, err := ExportSchema(context.Background(), svc.DB())
	if err != nil {
		t.Fatalf("ExportSchema failed: %v", err)
	}

	if !strings.Contains(output, "-- gallery schema version 3") {
		t.Errorf("Expected version header, got:\n%s", output)
	}
	if !strings.Contains(output, "STORE photos KEY id AUTOINCREMENT") {
		t.Errorf("Expected photos store, got:\n%s", output)
	}
	if !strings.Contains(output, "  INDEX by-name ON name") {
		t.Errorf("Expected categories name index, got:\n%s", output)
	}
	if !strings.Contains(output, "STORE thumbnails KEY photoId\n") {
		t.Errorf("Expected thumbnails store, got:\n%s", output)
	}

	// Deterministic ordering
	if strings.Index(output, "STORE categories") > strings.Index(output, "STORE photos") {
		t.Error("Expected stores sorted by name")
	}
	if strings.Index(output, "INDEX by-category") > strings.Index(output, "INDEX by-date") {
		t.Error("Expected indexes sorted by name")
	}
}

func TestStoreToText(t *testing.T) {
	tests := []struct {
		name string
		def  gallerydb.StoreDef
		want string
	}{
		{
			name: "plain",
			def:  gallerydb.StoreDef{Name: "thumbnails", KeyPath: "photoId"},
			want: "STORE thumbnails KEY photoId\n",
		},
		{
			name: "unique index",
			def: gallerydb.StoreDef{
				Name:          "albums",
				KeyPath:       "id",
				AutoIncrement: true,
				Indexes:       []gallerydb.IndexDef{{Name: "by-title", Field: "title", Unique: true}},
			},
			want: "STORE albums KEY id AUTOINCREMENT\n  INDEX by-title ON title UNIQUE\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StoreToText(tt.def); got != tt.want {
				t.Errorf("StoreToText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExportPhotos(t *testing.T) {
	svc := setupTestService(t)
	withThumb := addPhoto(t, svc, "sea.png", 3, []byte("thumb"))
	degraded := addPhoto(t, svc, "../tree.png", 4, nil)

	dir := filepath.Join(t.TempDir(), "out")
	manifest, err := ExportPhotos(context.Background(), svc, dir, 0)
	if err != nil {
		t.Fatalf("ExportPhotos failed: %v", err)
	}
	if len(manifest.Photos) != 2 {
		t.Fatalf("Expected 2 photos, got %d", len(manifest.Photos))
	}

	first := manifest.Photos[0]
	if first.ID != withThumb || first.Category != "풍경" {
		t.Errorf("Unexpected first entry %+v", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, first.Original))
	if err != nil || string(data) != "original:sea.png" {
		t.Errorf("Original file = %q, %v", data, err)
	}
	if thumb, err := os.ReadFile(filepath.Join(dir, first.Thumbnail)); err != nil || string(thumb) != "thumb" {
		t.Errorf("Thumbnail file = %q, %v", thumb, err)
	}

	second := manifest.Photos[1]
	if second.ID != degraded || second.Thumbnail != "" {
		t.Errorf("Degraded photo entry %+v", second)
	}
	if strings.Contains(second.Original, "..") {
		t.Errorf("Export name escapes directory: %q", second.Original)
	}

	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	var decoded Manifest
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Failed to decode manifest: %v", err)
	}
	if decoded.SchemaVersion != gallery.LatestVersion || len(decoded.Photos) != 2 {
		t.Errorf("Unexpected manifest %+v", decoded)
	}
}

func TestExportPhotosByCategory(t *testing.T) {
	svc := setupTestService(t)
	addPhoto(t, svc, "a.png", 3, nil)
	keep := addPhoto(t, svc, "b.png", 5, nil)

	manifest, err := ExportPhotos(context.Background(), svc, t.TempDir(), 5)
	if err != nil {
		t.Fatalf("ExportPhotos failed: %v", err)
	}
	if len(manifest.Photos) != 1 || manifest.Photos[0].ID != keep {
		t.Errorf("Unexpected manifest %+v", manifest.Photos)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"dir/photo.jpg", "photo.jpg"},
		{"", "photo"},
		{"  ", "photo"},
	}
	for _, tt := range tests {
		if got := safeName(tt.in); got != tt.want {
			t.Errorf("safeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
