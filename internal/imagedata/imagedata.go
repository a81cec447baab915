// Package imagedata handles the base64 data URIs that carry room photos and
// rendered images between the service, its clients and the renderer.
package imagedata

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmpty        = errors.New("image is empty")
	ErrInvalidImage = errors.New("invalid image data")
	ErrTooLarge     = errors.New("image exceeds size limit")
	ErrUnsupported  = errors.New("unsupported image type")
)

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Image is a decoded data URI.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURI encodes the image as data:<mime>;base64,<payload>.
func (img Image) DataURI() string {
	return EncodeDataURI(img.MIMEType, img.Data)
}

// EncodeDataURI builds a base64 data URI.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsDataURI reports whether s looks like a base64 data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}

// Parse decodes a data URI. A bare base64 payload is accepted and its type
// sniffed from the bytes.
func Parse(s string) (Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Image{}, ErrEmpty
	}
	mimeType := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return Image{}, fmt.Errorf("%w: missing payload", ErrInvalidImage)
		}
		header := s[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return Image{}, fmt.Errorf("%w: only base64 data URIs are supported", ErrInvalidImage)
		}
		mimeType = strings.ToLower(strings.TrimSuffix(header, ";base64"))
		payload = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	if len(data) == 0 {
		return Image{}, ErrEmpty
	}
	if mimeType == "" || mimeType == "image/jpg" {
		mimeType = sniff(data)
	}
	return Image{MIMEType: mimeType, Data: data}, nil
}

// DecodedSize returns the approximate decoded byte size of a data URI
// without decoding it.
func DecodedSize(s string) int {
	if idx := strings.IndexByte(s, ','); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodedLen(len(s))
}

func sniff(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

// Options bound normalized uploads.
type Options struct {
	// MaxBytes rejects larger decoded payloads. Zero disables the check.
	MaxBytes int
	// MaxDimension downsizes images whose longest side exceeds it. Zero
	// disables resizing.
	MaxDimension int
}

// Result describes a normalized upload.
type Result struct {
	Image   Image
	Width   int
	Height  int
	Resized bool
}

// Normalize validates an uploaded image and downsizes it when it exceeds the
// dimension limit. JPEG uploads stay JPEG; everything else that has to be
// re-encoded becomes PNG.
func Normalize(s string, opts Options) (Result, error) {
	img, err := Parse(s)
	if err != nil {
		return Result{}, err
	}
	if !supportedTypes[img.MIMEType] {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, img.MIMEType)
	}
	if opts.MaxBytes > 0 && len(img.Data) > opts.MaxBytes {
		return Result{}, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(img.Data), opts.MaxBytes)
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrInvalidImage, err)
	}
	bounds := decoded.Bounds()
	res := Result{Image: img, Width: bounds.Dx(), Height: bounds.Dy()}
	if opts.MaxDimension <= 0 || (res.Width <= opts.MaxDimension && res.Height <= opts.MaxDimension) {
		return res, nil
	}

	resized := resize(decoded, opts.MaxDimension)
	var buf bytes.Buffer
	mimeType := "image/png"
	if img.MIMEType == "image/jpeg" {
		mimeType = "image/jpeg"
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, resized)
	}
	if err != nil {
		return Result{}, fmt.Errorf("encode image: %w", err)
	}
	rb := resized.Bounds()
	return Result{
		Image:   Image{MIMEType: mimeType, Data: buf.Bytes()},
		Width:   rb.Dx(),
		Height:  rb.Dy(),
		Resized: true,
	}, nil
}

func resize(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = height * maxSize / width
	} else {
		newHeight = maxSize
		newWidth = width * maxSize / height
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
