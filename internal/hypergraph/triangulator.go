package hypergraph

import (
	"errors"
	"fmt"

	"hypermatch/pkg/geometry"

	"github.com/fogleman/delaunay"
)

// ErrNoTriangulation is returned by a Triangulator when the input admits no
// triangles (fewer than three distinct points, or all points collinear).
var ErrNoTriangulation = errors.New("no triangulation exists for input")

// Vertex is one corner of a candidate triangle. ID is the identity of the
// input point the vertex came from, or -1 when the triangulator only reports
// coordinates.
type Vertex struct {
	Pt geometry.Point2D
	ID int
}

// Untagged returns a vertex that carries only its coordinate.
func Untagged(p geometry.Point2D) Vertex {
	return Vertex{Pt: p, ID: -1}
}

// Triangle is a candidate triangle as emitted by a Triangulator.
type Triangle [3]Vertex

// Triangulator computes a planar triangulation of points that lie within
// bounds. Implementations may emit triangles with vertices outside bounds
// (for example the virtual corners of an enclosing super-triangle); the
// Builder drops them.
type Triangulator interface {
	Triangulate(bounds geometry.Rect, points []geometry.Point2D) ([]Triangle, error)
}

// DelaunayTriangulator is the default Triangulator. It emits vertices tagged
// with the index of the input point, so no coordinate lookup is needed.
type DelaunayTriangulator struct{}

// Triangulate implements Triangulator.
func (DelaunayTriangulator) Triangulate(_ geometry.Rect, points []geometry.Point2D) ([]Triangle, error) {
	if len(points) < 3 {
		return nil, ErrNoTriangulation
	}

	input := make([]delaunay.Point, len(points))
	for i, p := range points {
		input[i] = delaunay.Point{X: p.X, Y: p.Y}
	}

	tri, err := delaunay.Triangulate(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTriangulation, err)
	}

	out := make([]Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i+2 < len(tri.Triangles); i += 3 {
		var t Triangle
		for k := 0; k < 3; k++ {
			idx := tri.Triangles[i+k]
			t[k] = Vertex{Pt: points[idx], ID: idx}
		}
		out = append(out, t)
	}
	return out, nil
}
