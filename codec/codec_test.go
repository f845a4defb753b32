package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
)

func noiseImage(w, h int, seed int64) *image.NRGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.Intn(256))
		img.Pix[i+1] = uint8(r.Intn(256))
		img.Pix[i+2] = uint8(r.Intn(256))
		img.Pix[i+3] = 0xff
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func decodeConfig(t *testing.T, data []byte) image.Config {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	return cfg
}

func TestFit(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxWidth      int
		want          Geometry
	}{
		{"wider than max", 3000, 2000, 1920, Geometry{1920, 1280}},
		{"exactly max", 1920, 1080, 1920, Geometry{1920, 1080}},
		{"narrower keeps size", 800, 600, 1920, Geometry{800, 600}},
		{"rounds height", 3000, 1001, 1920, Geometry{1920, 641}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fit(tt.width, tt.height, tt.maxWidth)
			if got != tt.want {
				t.Errorf("Fit() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScaleToWidth(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          Geometry
	}{
		{"downscale", 1000, 500, Geometry{200, 100}},
		{"upscale small source", 50, 40, Geometry{200, 160}},
		{"very wide keeps one row", 100000, 10, Geometry{200, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaleToWidth(tt.width, tt.height, 200)
			if got != tt.want {
				t.Errorf("ScaleToWidth() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTranscodeOriginalPassThrough(t *testing.T) {
	// Not a valid image: pass-through must not even decode
	data := bytes.Repeat([]byte{0xAB}, 1<<20)

	out, err := TranscodeOriginal(data, DefaultOriginal)
	if err != nil {
		t.Fatalf("TranscodeOriginal failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("expected 1 MiB input to come back byte-identical")
	}
}

func TestTranscodeOriginalDownscalesLargeInput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large image test in short mode")
	}

	input := encodePNG(t, noiseImage(3000, 600, 1))
	if len(input) < 5<<20 {
		t.Fatalf("fixture too small: %d bytes", len(input))
	}

	out, err := TranscodeOriginal(input, DefaultOriginal)
	if err != nil {
		t.Fatalf("TranscodeOriginal failed: %v", err)
	}

	cfg := decodeConfig(t, out)
	if cfg.Width != 1920 {
		t.Errorf("width = %d, want 1920", cfg.Width)
	}
	if cfg.Height != 384 {
		t.Errorf("height = %d, want 384", cfg.Height)
	}
	if len(out) > len(input) {
		t.Errorf("output %d bytes larger than input %d bytes", len(out), len(input))
	}
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("output is not a JPEG: %v", err)
	}
}

func TestTranscodeOriginalKeepsNarrowLargeInput(t *testing.T) {
	input := encodePNG(t, noiseImage(1000, 1000, 2))
	if len(input) <= 2<<20 {
		t.Fatalf("fixture too small: %d bytes", len(input))
	}

	out, err := TranscodeOriginal(input, DefaultOriginal)
	if err != nil {
		t.Fatalf("TranscodeOriginal failed: %v", err)
	}
	cfg := decodeConfig(t, out)
	if cfg.Width != 1000 || cfg.Height != 1000 {
		t.Errorf("size = %dx%d, want 1000x1000", cfg.Width, cfg.Height)
	}
}

func TestTranscodeThumbnailWidth(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		wantHeight int
	}{
		{"large source", 1600, 1200, 150},
		{"small source is upsampled", 40, 30, 150},
		{"exact width", 200, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := encodePNG(t, noiseImage(tt.w, tt.h, 3))
			out, err := TranscodeThumbnail(input, DefaultThumbnail)
			if err != nil {
				t.Fatalf("TranscodeThumbnail failed: %v", err)
			}
			if bytes.Equal(out, input) {
				t.Error("thumbnail must never be a pass-through")
			}
			cfg := decodeConfig(t, out)
			if cfg.Width != 200 {
				t.Errorf("width = %d, want 200", cfg.Width)
			}
			if cfg.Height != tt.wantHeight {
				t.Errorf("height = %d, want %d", cfg.Height, tt.wantHeight)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	garbage := []byte("this is not an image")

	if _, err := TranscodeThumbnail(garbage, DefaultThumbnail); !errors.Is(err, ErrDecode) {
		t.Errorf("TranscodeThumbnail error = %v, want ErrDecode", err)
	}

	big := bytes.Repeat([]byte("x"), 3<<20)
	if _, err := TranscodeOriginal(big, DefaultOriginal); !errors.Is(err, ErrDecode) {
		t.Errorf("TranscodeOriginal error = %v, want ErrDecode", err)
	}
}

// pngHeader builds a PNG whose IHDR claims width x height RGBA pixels but
// whose image data is only a couple of bytes
func pngHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(kind string, data []byte) {
		binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(kind), data...)
		buf.Write(body)
		binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], width)
	binary.BigEndian.PutUint32(ihdr[4:], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IDAT", []byte{0x78, 0x9c})
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestDecodeRejectsOversizedImages(t *testing.T) {
	forged := pngHeader(40000, 40000)

	if _, err := TranscodeThumbnail(forged, DefaultThumbnail); !errors.Is(err, ErrDecode) {
		t.Errorf("TranscodeThumbnail error = %v, want ErrDecode", err)
	}
	noPassThrough := Options{MaxWidth: 1920, Quality: 0.8}
	if _, err := TranscodeOriginal(forged, noPassThrough); !errors.Is(err, ErrDecode) {
		t.Errorf("TranscodeOriginal error = %v, want ErrDecode", err)
	}
	if _, _, err := Decode(forged); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode error = %v, want ErrDecode", err)
	}

	// A real image over a custom limit
	small := encodePNG(t, noiseImage(40, 30, 7))
	limited := Options{MaxWidth: 200, Quality: 0.7, MaxPixels: 1000}
	if _, err := TranscodeThumbnail(small, limited); !errors.Is(err, ErrDecode) {
		t.Errorf("TranscodeThumbnail over MaxPixels error = %v, want ErrDecode", err)
	}
	if _, _, err := DecodeWithLimit(small, 1200); err != nil {
		t.Errorf("DecodeWithLimit at the limit failed: %v", err)
	}
}

func TestTranscodeThumbnailRejectsHugeTarget(t *testing.T) {
	// 1x2000 scaled to width 200 would be 200x400000
	narrow := encodePNG(t, noiseImage(1, 2000, 3))

	if _, err := TranscodeThumbnail(narrow, DefaultThumbnail); !errors.Is(err, ErrDecode) {
		t.Errorf("TranscodeThumbnail error = %v, want ErrDecode", err)
	}
}

func TestEncodeFlattensTransparency(t *testing.T) {
	// Fully transparent pixels must come out white, not black
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))

	out, err := Encode(img, 0.9)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("jpeg.Decode failed: %v", err)
	}
	r, g, b, _ := decoded.At(4, 4).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("pixel = (%d,%d,%d), want near white", r>>8, g>>8, b>>8)
	}
}

func TestEncodedSizeMiB(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want float64
	}{
		{"empty", 0, 0},
		{"three MiB raw is four MiB encoded", 3 << 20, 4},
		{"rounds to two decimals", 1 << 20, 1.33},
		{"small payload rounds to zero", 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodedSizeMiB(make([]byte, tt.n))
			if got != tt.want {
				t.Errorf("EncodedSizeMiB(%d bytes) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default original", DefaultOriginal, false},
		{"default thumbnail", DefaultThumbnail, false},
		{"zero width", Options{MaxWidth: 0, Quality: 0.5}, true},
		{"quality above one", Options{MaxWidth: 10, Quality: 1.5}, true},
		{"zero quality", Options{MaxWidth: 10}, true},
		{"negative pass-through", Options{MaxWidth: 10, Quality: 0.5, PassThroughBytes: -1}, true},
		{"negative max pixels", Options{MaxWidth: 10, Quality: 0.5, MaxPixels: -1}, true},
		{"zero max pixels uses default", Options{MaxWidth: 10, Quality: 0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOptions) {
				t.Errorf("expected ErrOptions, got %v", err)
			}
		})
	}
}

func TestTranscoder(t *testing.T) {
	if _, err := NewTranscoder(Options{}, DefaultThumbnail); err == nil {
		t.Error("expected invalid original profile to be rejected")
	}

	tc, err := NewTranscoder(Options{MaxWidth: 64, Quality: 0.5}, Options{MaxWidth: 16, Quality: 0.5})
	if err != nil {
		t.Fatalf("NewTranscoder failed: %v", err)
	}
	input := encodePNG(t, noiseImage(128, 64, 4))

	original, err := tc.Original(input)
	if err != nil {
		t.Fatalf("Original failed: %v", err)
	}
	if cfg := decodeConfig(t, original); cfg.Width != 64 || cfg.Height != 32 {
		t.Errorf("original = %dx%d, want 64x32", cfg.Width, cfg.Height)
	}

	thumb, err := tc.Thumbnail(input)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if cfg := decodeConfig(t, thumb); cfg.Width != 16 || cfg.Height != 8 {
		t.Errorf("thumbnail = %dx%d, want 16x8", cfg.Width, cfg.Height)
	}
}
