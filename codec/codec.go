// Package codec derives size-bounded images from uploaded image bytes.
//
// Everything here is a pure function of its inputs: decode bytes into an
// image, compute a target geometry, resize, re-encode as JPEG. Nothing keeps a
// reference to its input or output after returning.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	// Registered decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrDecode reports a payload that is not a supported image
var ErrDecode = errors.New("codec: cannot decode image")

// ErrOptions reports unusable transcoding options
var ErrOptions = errors.New("codec: invalid options")

const mib = 1 << 20

// Options controls one transcoding profile
type Options struct {
	// MaxWidth is the target pixel width
	MaxWidth int
	// Quality is the JPEG quality in (0, 1]
	Quality float64
	// PassThroughBytes returns inputs at or below this size unchanged.
	// Zero disables pass-through.
	PassThroughBytes int
	// MaxPixels bounds width*height of both the decoded and the resized
	// image. Zero means DefaultMaxPixels.
	MaxPixels int
}

// DefaultMaxPixels is 50 megapixels
const DefaultMaxPixels = 50_000_000

// Defaults for the stored original and its thumbnail
var (
	DefaultOriginal  = Options{MaxWidth: 1920, Quality: 0.8, PassThroughBytes: 2 * mib, MaxPixels: DefaultMaxPixels}
	DefaultThumbnail = Options{MaxWidth: 200, Quality: 0.7, MaxPixels: DefaultMaxPixels}
)

func (o Options) maxPixels() int {
	if o.MaxPixels == 0 {
		return DefaultMaxPixels
	}
	return o.MaxPixels
}

// Validate checks the options
func (o Options) Validate() error {
	if o.MaxWidth <= 0 {
		return fmt.Errorf("%w: max width %d", ErrOptions, o.MaxWidth)
	}
	if o.Quality <= 0 || o.Quality > 1 {
		return fmt.Errorf("%w: quality %v outside (0, 1]", ErrOptions, o.Quality)
	}
	if o.PassThroughBytes < 0 {
		return fmt.Errorf("%w: pass-through size %d", ErrOptions, o.PassThroughBytes)
	}
	if o.MaxPixels < 0 {
		return fmt.Errorf("%w: max pixels %d", ErrOptions, o.MaxPixels)
	}
	return nil
}

// Geometry is a pixel size
type Geometry struct {
	Width  int
	Height int
}

// Fit shrinks (width, height) to maxWidth preserving the aspect ratio. Images
// already within maxWidth keep their size.
func Fit(width, height, maxWidth int) Geometry {
	if width <= maxWidth {
		return Geometry{Width: width, Height: height}
	}
	return ScaleToWidth(width, height, maxWidth)
}

// ScaleToWidth scales (width, height) to exactly targetWidth, upsampling when
// the source is narrower
func ScaleToWidth(width, height, targetWidth int) Geometry {
	if width <= 0 || height <= 0 {
		return Geometry{Width: targetWidth, Height: 1}
	}
	scale := float64(targetWidth) / float64(width)
	h := int(math.Round(float64(height) * scale))
	if h < 1 {
		h = 1
	}
	return Geometry{Width: targetWidth, Height: h}
}

// Decode parses an image of at most DefaultMaxPixels and reports its format
// name
func Decode(data []byte) (image.Image, string, error) {
	return DecodeWithLimit(data, DefaultMaxPixels)
}

// DecodeWithLimit reads the header first and refuses images larger than
// maxPixels before any pixel buffer is allocated
func DecodeWithLimit(data []byte, maxPixels int) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := checkPixels(Geometry{Width: cfg.Width, Height: cfg.Height}, maxPixels); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

func checkPixels(g Geometry, maxPixels int) error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrDecode, g.Width, g.Height)
	}
	if int64(g.Width)*int64(g.Height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, g.Width, g.Height, maxPixels)
	}
	return nil
}

// Resize draws img into a new image of the given geometry
func Resize(img image.Image, g Geometry) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	if img.Bounds().Dx() == g.Width && img.Bounds().Dy() == g.Height {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Encode writes img as a JPEG at quality in (0, 1]. Transparent pixels are
// flattened onto white.
func Encode(img image.Image, quality float64) ([]byte, error) {
	b := img.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)

	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// TranscodeOriginal bounds an upload for storage. Inputs within
// PassThroughBytes come back unchanged; larger ones are decoded, shrunk to
// MaxWidth when wider, and re-encoded.
func TranscodeOriginal(data []byte, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.PassThroughBytes > 0 && len(data) <= opts.PassThroughBytes {
		return data, nil
	}
	img, _, err := DecodeWithLimit(data, opts.maxPixels())
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	g := Fit(b.Dx(), b.Dy(), opts.MaxWidth)
	if g.Width != b.Dx() || g.Height != b.Dy() {
		img = Resize(img, g)
	}
	return Encode(img, opts.Quality)
}

// TranscodeThumbnail always decodes and resizes to exactly MaxWidth
func TranscodeThumbnail(data []byte, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	img, _, err := DecodeWithLimit(data, opts.maxPixels())
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	// Upsampling a very narrow image can still produce a huge target
	g := ScaleToWidth(b.Dx(), b.Dy(), opts.MaxWidth)
	if err := checkPixels(g, opts.maxPixels()); err != nil {
		return nil, err
	}
	return Encode(Resize(img, g), opts.Quality)
}

// EncodedSizeMiB is the base64-encoded length of data in MiB, rounded to two
// decimals
func EncodedSizeMiB(data []byte) float64 {
	n := base64.StdEncoding.EncodedLen(len(data))
	return math.Round(float64(n)/mib*100) / 100
}

// Transcoder applies a fixed pair of profiles
type Transcoder struct {
	original  Options
	thumbnail Options
}

// NewTranscoder validates both profiles
func NewTranscoder(original, thumbnail Options) (*Transcoder, error) {
	if err := original.Validate(); err != nil {
		return nil, fmt.Errorf("original: %w", err)
	}
	if err := thumbnail.Validate(); err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}
	return &Transcoder{original: original, thumbnail: thumbnail}, nil
}

// DefaultTranscoder uses DefaultOriginal and DefaultThumbnail
func DefaultTranscoder() *Transcoder {
	return &Transcoder{original: DefaultOriginal, thumbnail: DefaultThumbnail}
}

// Original transcodes with the original profile
func (t *Transcoder) Original(data []byte) ([]byte, error) {
	return TranscodeOriginal(data, t.original)
}

// Thumbnail transcodes with the thumbnail profile
func (t *Transcoder) Thumbnail(data []byte) ([]byte, error) {
	return TranscodeThumbnail(data, t.thumbnail)
}
