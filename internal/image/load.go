// Package image loads the input images of a match request.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"hypermatch/pkg/geometry"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
)

// Image is a decoded input image.
type Image struct {
	Path string
	Data image.Image
	DPI  float64 // From TIFF resolution tags; 0 when unknown

	// Scale is the factor Data was resized by after loading, 1 for the
	// original pixels. Keypoint coordinates are in the resized space.
	Scale float64
}

// Load decodes the image at path.
func Load(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	out := &Image{Path: path, Data: img, Scale: 1}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".tiff" || ext == ".tif" {
		if dpi, err := tiffDPI(file); err == nil {
			out.DPI = dpi
		}
	}
	return out, nil
}

// Width returns the image width in pixels.
func (im *Image) Width() int {
	if im.Data == nil {
		return 0
	}
	return im.Data.Bounds().Dx()
}

// Height returns the image height in pixels.
func (im *Image) Height() int {
	if im.Data == nil {
		return 0
	}
	return im.Data.Bounds().Dy()
}

// Size returns the image dimensions.
func (im *Image) Size() geometry.Size {
	return geometry.NewSize(float64(im.Width()), float64(im.Height()))
}

// Bounds returns the rectangle keypoints of this image lie in, anchored at
// the origin. Keypoint coordinates are sub-pixel, so the far edges are
// included.
func (im *Image) Bounds() geometry.Rect {
	return geometry.RectFromSize(im.Size())
}

// Fit returns im downscaled so neither side exceeds maxDim, keeping the
// aspect ratio. Images already small enough, and maxDim <= 0, return im.
func (im *Image) Fit(maxDim int) *Image {
	w, h := im.Width(), im.Height()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return im
	}
	resized := imaging.Fit(im.Data, maxDim, maxDim, imaging.Lanczos)
	out := *im
	out.Data = resized
	out.Scale = im.Scale * float64(resized.Bounds().Dx()) / float64(w)
	if out.DPI > 0 {
		out.DPI *= float64(resized.Bounds().Dx()) / float64(w)
	}
	return &out
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// TIFF tags and field types read by tiffDPI.
const (
	tagXResolution    = 282
	tagYResolution    = 283
	tagResolutionUnit = 296

	typeShort    = 3
	typeRational = 5

	unitCentimeter = 3
)

var errNoResolution = errors.New("no resolution tags found")

// tiffDPI reads the resolution tags of the first IFD.
func tiffDPI(r io.ReaderAt) (float64, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return 0, err
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("not a valid TIFF file")
	}

	ifd := int64(order.Uint32(header[4:8]))
	count := make([]byte, 2)
	if _, err := r.ReadAt(count, ifd); err != nil {
		return 0, err
	}

	var xRes, yRes float64
	unit := uint16(2) // inches
	entry := make([]byte, 12)
	for i := int64(0); i < int64(order.Uint16(count)); i++ {
		if _, err := r.ReadAt(entry, ifd+2+i*12); err != nil {
			return 0, err
		}
		tag := order.Uint16(entry[0:2])
		fieldType := order.Uint16(entry[2:4])

		switch {
		case tag == tagXResolution && fieldType == typeRational:
			xRes = readRational(r, int64(order.Uint32(entry[8:12])), order)
		case tag == tagYResolution && fieldType == typeRational:
			yRes = readRational(r, int64(order.Uint32(entry[8:12])), order)
		case tag == tagResolutionUnit && fieldType == typeShort:
			unit = order.Uint16(entry[8:10])
		}
	}

	dpi := xRes
	if dpi == 0 {
		dpi = yRes
	}
	if dpi == 0 {
		return 0, errNoResolution
	}
	if unit == unitCentimeter {
		dpi *= 2.54
	}
	return dpi, nil
}

// readRational reads a RATIONAL value (two uint32s) at offset.
func readRational(r io.ReaderAt, offset int64, order binary.ByteOrder) float64 {
	buf := make([]byte, 8)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0
	}
	num, denom := order.Uint32(buf[0:4]), order.Uint32(buf[4:8])
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}
