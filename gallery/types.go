package gallery

import "time"

// Store and index names
const (
	StorePhotos     = "photos"
	StoreCategories = "categories"
	StoreThumbnails = "thumbnails"

	IndexPhotosByCategory = "by-category"
	IndexPhotosByDate     = "by-date"
	IndexCategoriesByName = "by-name"
)

// Asset is binary image data plus its size in bytes
type Asset struct {
	Data []byte `json:"data"`
	Size int    `json:"size"`
}

// Photo is the metadata record of one uploaded image. Thumbnail is never
// stored on the record; read paths fill it from the thumbnails store and
// leave it empty for a degraded photo.
type Photo struct {
	ID              int64     `json:"id,omitempty"`
	Filename        string    `json:"filename"`
	Original        Asset     `json:"original"`
	Thumbnail       []byte    `json:"thumbnail,omitempty"`
	Date            string    `json:"date"`
	Location        string    `json:"location"`
	Photographer    string    `json:"photographer"`
	CategoryID      int64     `json:"categoryId"`
	UploadTimestamp time.Time `json:"uploadTimestamp"`
}

// HasThumbnail reports whether a read path found a thumbnail for the photo
func (p Photo) HasThumbnail() bool {
	return len(p.Thumbnail) > 0
}

// DisplayImage returns the thumbnail, falling back to the original asset
func (p Photo) DisplayImage() []byte {
	if p.HasThumbnail() {
		return p.Thumbnail
	}
	return p.Original.Data
}

// Category groups photos. Identities 1-7 are the reserved defaults.
type Category struct {
	ID           int64     `json:"id,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreationDate time.Time `json:"creationDate"`
}

// Thumbnail holds the downsized image of the photo with the same identity
type Thumbnail struct {
	PhotoID int64  `json:"photoId"`
	Data    []byte `json:"data"`
}
