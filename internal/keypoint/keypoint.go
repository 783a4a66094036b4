// Package keypoint holds the immutable per-image inputs of a match request:
// detected keypoints and their descriptor matrix.
package keypoint

import (
	"errors"
	"fmt"
	"sort"

	"hypermatch/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// ErrDescriptorRows is returned when the descriptor matrix does not have one
// row per keypoint.
var ErrDescriptorRows = errors.New("descriptor rows must match keypoint count")

// Keypoint is a detected image location. ID is its position in the
// originating keypoint list and survives triangulation unchanged.
type Keypoint struct {
	ID       int              `json:"id"`
	Pt       geometry.Point2D `json:"pt"`
	Response float64          `json:"response"` // Detector response, higher is stronger
	Size     float64          `json:"size"`     // Diameter of the meaningful neighbourhood
	Angle    float64          `json:"angle"`    // Orientation in degrees, -1 if not applicable
	Octave   int              `json:"octave"`   // Pyramid layer the keypoint was found in
}

// Set is one image's keypoints together with their descriptors. Row i of
// Descriptors describes Keypoints[i]. A Set is never mutated once built.
type Set struct {
	Keypoints   []Keypoint
	Descriptors *mat.Dense // nil when the set is empty
}

// NewSet validates kps against desc and returns a Set. Keypoint IDs are
// re-assigned to their slice positions.
func NewSet(kps []Keypoint, desc *mat.Dense) (*Set, error) {
	rows := 0
	if desc != nil {
		rows, _ = desc.Dims()
	}
	if rows != len(kps) {
		return nil, fmt.Errorf("%w: %d keypoints, %d descriptor rows", ErrDescriptorRows, len(kps), rows)
	}

	own := make([]Keypoint, len(kps))
	copy(own, kps)
	for i := range own {
		own[i].ID = i
	}
	return &Set{Keypoints: own, Descriptors: desc}, nil
}

// FromPoints builds a Set from bare coordinates and descriptor rows. It is
// the entry point for callers that run their own feature extraction.
func FromPoints(points []geometry.Point2D, descriptors [][]float64) (*Set, error) {
	if len(points) != len(descriptors) {
		return nil, fmt.Errorf("%w: %d keypoints, %d descriptor rows", ErrDescriptorRows, len(points), len(descriptors))
	}
	kps := make([]Keypoint, len(points))
	for i, p := range points {
		kps[i] = Keypoint{ID: i, Pt: p, Angle: -1}
	}
	if len(points) == 0 {
		return &Set{Keypoints: kps}, nil
	}

	cols := len(descriptors[0])
	if cols == 0 {
		return nil, fmt.Errorf("descriptor rows must not be empty")
	}
	data := make([]float64, 0, len(points)*cols)
	for i, row := range descriptors {
		if len(row) != cols {
			return nil, fmt.Errorf("descriptor row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return NewSet(kps, mat.NewDense(len(points), cols, data))
}

// Len returns the number of keypoints.
func (s *Set) Len() int {
	return len(s.Keypoints)
}

// Dim returns the descriptor width, or 0 for an empty set.
func (s *Set) Dim() int {
	if s.Descriptors == nil {
		return 0
	}
	_, c := s.Descriptors.Dims()
	return c
}

// Point returns the coordinate of keypoint id.
func (s *Set) Point(id int) geometry.Point2D {
	return s.Keypoints[id].Pt
}

// Points returns all coordinates in identity order.
func (s *Set) Points() []geometry.Point2D {
	pts := make([]geometry.Point2D, len(s.Keypoints))
	for i, kp := range s.Keypoints {
		pts[i] = kp.Pt
	}
	return pts
}

// Descriptor returns the descriptor row of keypoint id. The slice aliases
// the matrix and must not be modified.
func (s *Set) Descriptor(id int) []float64 {
	return s.Descriptors.RawRowView(id)
}

// TopN returns a Set holding the n keypoints with the strongest response,
// strongest first. Equal responses keep their original order. Identities
// are re-assigned 0..n-1 and descriptor rows follow their keypoints.
// n <= 0, or n >= Len, keeps every keypoint (still sorted).
func (s *Set) TopN(n int) *Set {
	order := make([]int, len(s.Keypoints))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.Keypoints[order[a]].Response > s.Keypoints[order[b]].Response
	})
	if n > 0 && n < len(order) {
		order = order[:n]
	}

	kps := make([]Keypoint, len(order))
	for i, src := range order {
		kps[i] = s.Keypoints[src]
		kps[i].ID = i
	}
	if len(order) == 0 || s.Descriptors == nil {
		return &Set{Keypoints: kps}
	}

	desc := mat.NewDense(len(order), s.Dim(), nil)
	for i, src := range order {
		desc.SetRow(i, s.Descriptors.RawRowView(src))
	}
	return &Set{Keypoints: kps, Descriptors: desc}
}
