package image

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"hypermatch/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	return img
}

func TestLoadPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, testImage(8, 5)))
	require.NoError(t, f.Close())

	im, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, im.Width())
	assert.Equal(t, 5, im.Height())
	assert.Equal(t, 0.0, im.DPI)
	assert.Equal(t, 1.0, im.Scale)
	assert.Equal(t, geometry.NewRect(0, 0, 8, 5), im.Bounds())
	assert.True(t, im.Bounds().Contains(geometry.NewPoint2D(8, 5)))
}

func TestFit(t *testing.T) {
	im := &Image{Data: testImage(8, 6), Scale: 1}

	small := im.Fit(4)
	assert.Equal(t, 4, small.Width())
	assert.Equal(t, 3, small.Height())
	assert.InDelta(t, 0.5, small.Scale, 1e-12)
	assert.Equal(t, 8, im.Width(), "receiver is unchanged")

	assert.Same(t, im, im.Fit(0))
	assert.Same(t, im, im.Fit(8))
}

func TestLoadTIFFReadsDPI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.tif")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, testImage(4, 4), nil))
	require.NoError(t, f.Close())

	im, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, im.Width())
	assert.InDelta(t, 72.0, im.DPI, 1e-9)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "junk.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

// buildTIFFHeader writes a minimal big-endian IFD with the given resolution
// in pixels per centimeter.
func buildTIFFHeader(perCM uint32) []byte {
	var buf bytes.Buffer
	be := binary.BigEndian
	buf.WriteString("MM")
	binary.Write(&buf, be, uint16(42))
	binary.Write(&buf, be, uint32(8))

	binary.Write(&buf, be, uint16(2))
	// XResolution -> rational at offset 8+2+2*12+4 = 38
	binary.Write(&buf, be, uint16(tagXResolution))
	binary.Write(&buf, be, uint16(typeRational))
	binary.Write(&buf, be, uint32(1))
	binary.Write(&buf, be, uint32(38))
	binary.Write(&buf, be, uint16(tagResolutionUnit))
	binary.Write(&buf, be, uint16(typeShort))
	binary.Write(&buf, be, uint32(1))
	binary.Write(&buf, be, uint16(unitCentimeter))
	binary.Write(&buf, be, uint16(0))
	binary.Write(&buf, be, uint32(0)) // next IFD

	binary.Write(&buf, be, perCM)
	binary.Write(&buf, be, uint32(1))
	return buf.Bytes()
}

func TestTIFFDPI(t *testing.T) {
	dpi, err := tiffDPI(bytes.NewReader(buildTIFFHeader(100)))
	require.NoError(t, err)
	assert.InDelta(t, 254.0, dpi, 1e-9)

	_, err = tiffDPI(bytes.NewReader([]byte("PNG-not-tiff")))
	assert.Error(t, err)
}

func TestIsSupportedFormat(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.png", true},
		{"b.JPG", true},
		{"c.tiff", true},
		{"d.bmp", false},
		{"noext", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSupportedFormat(tt.path))
		})
	}
}
