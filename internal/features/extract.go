// Package features detects keypoints and computes descriptors with OpenCV.
package features

import (
	"fmt"
	"strings"

	"hypermatch/internal/keypoint"
	"hypermatch/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Extractor produces keypoints and descriptors for one image.
type Extractor interface {
	Extract(img gocv.Mat) (*keypoint.Set, error)
}

// Detector names an OpenCV feature algorithm.
type Detector string

const (
	DetectorSIFT  Detector = "sift"
	DetectorORB   Detector = "orb"
	DetectorAKAZE Detector = "akaze"
	DetectorBRISK Detector = "brisk"
)

// Detectors lists the supported detectors.
func Detectors() []Detector {
	return []Detector{DetectorSIFT, DetectorORB, DetectorAKAZE, DetectorBRISK}
}

// ParseDetector converts a detector name.
func ParseDetector(name string) (Detector, error) {
	d := Detector(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Detectors() {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown detector %q", name)
}

// Options configures a CVExtractor.
type Options struct {
	Detector Detector
	// Normalize scales every descriptor row to unit length so descriptor
	// distances are comparable across detectors.
	Normalize bool
}

// DefaultOptions returns SIFT with normalized descriptors.
func DefaultOptions() Options {
	return Options{Detector: DetectorSIFT, Normalize: true}
}

// CVExtractor is an Extractor backed by gocv.
type CVExtractor struct {
	opts Options
}

// NewExtractor returns an extractor for opts.
func NewExtractor(opts Options) (*CVExtractor, error) {
	if _, err := ParseDetector(string(opts.Detector)); err != nil {
		return nil, err
	}
	return &CVExtractor{opts: opts}, nil
}

// Extract implements Extractor. Binary descriptors (ORB, BRISK, AKAZE) are
// unpacked into one component per bit, so their Euclidean distance squared
// is the Hamming distance.
func (e *CVExtractor) Extract(img gocv.Mat) (*keypoint.Set, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
	} else {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	mask := gocv.NewMat()
	defer mask.Close()

	var kps []gocv.KeyPoint
	var desc gocv.Mat
	switch e.opts.Detector {
	case DetectorSIFT:
		d := gocv.NewSIFT()
		defer d.Close()
		kps, desc = d.DetectAndCompute(gray, mask)
	case DetectorORB:
		d := gocv.NewORB()
		defer d.Close()
		kps, desc = d.DetectAndCompute(gray, mask)
	case DetectorAKAZE:
		d := gocv.NewAKAZE()
		defer d.Close()
		kps, desc = d.DetectAndCompute(gray, mask)
	case DetectorBRISK:
		d := gocv.NewBRISK()
		defer d.Close()
		kps, desc = d.DetectAndCompute(gray, mask)
	default:
		return nil, fmt.Errorf("unknown detector %q", e.opts.Detector)
	}
	defer desc.Close()

	return toSet(kps, desc, e.opts.Normalize)
}

func toSet(kps []gocv.KeyPoint, desc gocv.Mat, normalize bool) (*keypoint.Set, error) {
	out := make([]keypoint.Keypoint, len(kps))
	for i, kp := range kps {
		out[i] = keypoint.Keypoint{
			ID:       i,
			Pt:       geometry.NewPoint2D(kp.X, kp.Y),
			Response: kp.Response,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Octave:   kp.Octave,
		}
	}
	if len(kps) == 0 || desc.Empty() {
		return keypoint.NewSet(nil, nil)
	}

	var rows [][]float64
	if desc.Type() == gocv.MatTypeCV8U {
		rows = binaryRows(desc)
	} else {
		rows = floatRows(desc)
	}
	if normalize {
		for _, row := range rows {
			if n := floats.Norm(row, 2); n > 0 {
				floats.Scale(1/n, row)
			}
		}
	}

	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, row := range rows {
		data = append(data, row...)
	}
	return keypoint.NewSet(out, mat.NewDense(len(rows), cols, data))
}

func floatRows(desc gocv.Mat) [][]float64 {
	f64 := gocv.NewMat()
	defer f64.Close()
	desc.ConvertTo(&f64, gocv.MatTypeCV64F)

	rows := make([][]float64, f64.Rows())
	for r := range rows {
		row := make([]float64, f64.Cols())
		for c := range row {
			row[c] = f64.GetDoubleAt(r, c)
		}
		rows[r] = row
	}
	return rows
}

func binaryRows(desc gocv.Mat) [][]float64 {
	rows := make([][]float64, desc.Rows())
	for r := range rows {
		packed := make([]byte, desc.Cols())
		for c := range packed {
			packed[c] = desc.GetUCharAt(r, c)
		}
		rows[r] = unpackBits(packed)
	}
	return rows
}

// unpackBits expands each byte into 8 components of 0 or 1, most significant
// bit first.
func unpackBits(packed []byte) []float64 {
	out := make([]float64, 0, len(packed)*8)
	for _, b := range packed {
		for k := 7; k >= 0; k-- {
			out = append(out, float64(b>>k&1))
		}
	}
	return out
}
