// Package thumbs generates and caches small preview images for stored
// files.
package thumbs

import (
	"bytes"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// ThumbSize is the target edge length in pixels.
const ThumbSize = 100

// thumbExtensions are the file types previews are generated for.
var thumbExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tiff": true,
	".tif":  true,
	".gif":  true,
	".bmp":  true,
}

// Supported reports whether a preview can be generated for the file name.
func Supported(name string) bool {
	return thumbExtensions[strings.ToLower(filepath.Ext(name))]
}

// Generate reads an image and produces its thumbnail, encoded in the
// format implied by name (falling back to JPEG). The resize is the
// historical two-step policy: scale to height 100 first, then to width
// 100. Each step preserves aspect on its own, so the combined result can
// exceed the 100px box on one axis for non-landscape sources; this
// matches the behavior clients already depend on.
func Generate(r io.Reader, name string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	orientation := readOrientation(bytes.NewReader(raw))

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	img = applyOrientation(img, orientation)

	thumb := imaging.Resize(img, 0, ThumbSize, imaging.Lanczos)
	thumb = imaging.Resize(thumb, ThumbSize, 0, imaging.Lanczos)

	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		format = imaging.JPEG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readOrientation extracts the EXIF orientation tag; 1 when absent.
func readOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation transforms an image according to EXIF orientation.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
