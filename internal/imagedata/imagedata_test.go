package imagedata

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func pngDataURI(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return EncodeDataURI("image/png", buf.Bytes())
}

func TestParse(t *testing.T) {
	uri := pngDataURI(t, 4, 4)
	img, err := Parse(uri)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Fatalf("MIMEType = %s", img.MIMEType)
	}
	if img.DataURI() != uri {
		t.Fatalf("round trip changed the URI")
	}

	bare := strings.TrimPrefix(uri, "data:image/png;base64,")
	sniffed, err := Parse(bare)
	if err != nil {
		t.Fatalf("Parse(bare) error = %v", err)
	}
	if sniffed.MIMEType != "image/png" {
		t.Fatalf("sniffed MIMEType = %s", sniffed.MIMEType)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "", ErrEmpty},
		{"no payload", "data:image/png;base64", ErrInvalidImage},
		{"not base64 uri", "data:image/png,abc", ErrInvalidImage},
		{"garbage", "data:image/png;base64,!!!", ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.in, err, tt.want)
			}
		})
	}
}

func TestNormalizeResizes(t *testing.T) {
	res, err := Normalize(pngDataURI(t, 400, 200), Options{MaxDimension: 100})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !res.Resized || res.Width != 100 || res.Height != 50 {
		t.Fatalf("unexpected result: resized=%v %dx%d", res.Resized, res.Width, res.Height)
	}
	if res.Image.MIMEType != "image/png" {
		t.Fatalf("MIMEType = %s", res.Image.MIMEType)
	}
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	uri := pngDataURI(t, 10, 20)
	res, err := Normalize(uri, Options{MaxDimension: 100})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if res.Resized || res.Image.DataURI() != uri {
		t.Fatalf("small image should pass through unchanged")
	}
}

func TestNormalizeLimits(t *testing.T) {
	if _, err := Normalize(pngDataURI(t, 50, 50), Options{MaxBytes: 10}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	text := EncodeDataURI("text/plain", []byte("hello"))
	if _, err := Normalize(text, Options{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestDecodedSize(t *testing.T) {
	uri := EncodeDataURI("image/png", make([]byte, 300))
	if got := DecodedSize(uri); got != 300 {
		t.Fatalf("DecodedSize() = %d, want 300", got)
	}
}
