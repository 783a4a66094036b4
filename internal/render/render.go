// Package render draws hypergraphs and matches onto images for inspection.
package render

import (
	"fmt"
	"image"
	"image/color"

	"hypermatch/internal/hypergraph"
	"hypermatch/internal/keypoint"
	"hypermatch/internal/match"
	"hypermatch/pkg/colorutil"
	"hypermatch/pkg/geometry"

	"gocv.io/x/gocv"
)

// Palette cycles through distinct colors for successive matches.
var Palette = []color.RGBA{
	{255, 0, 0, 255},   // Red
	{0, 255, 0, 255},   // Green
	{0, 0, 255, 255},   // Blue
	{255, 255, 0, 255}, // Yellow
	{255, 0, 255, 255}, // Magenta
	{0, 255, 255, 255}, // Cyan
	{255, 128, 0, 255}, // Orange
	{128, 0, 255, 255}, // Purple
	{0, 255, 128, 255}, // Spring Green
	{0, 128, 255, 255}, // Sky Blue
}

// ColorFor returns the color of the i-th item: the palette first, then
// generated hues.
func ColorFor(i int) color.RGBA {
	if i < len(Palette) {
		return Palette[i]
	}
	return colorutil.Distinct(i - len(Palette))
}

// Options configures overlay drawing.
type Options struct {
	PointRadius   int
	LineThickness int
	EdgeColor     color.RGBA // Triangulation edges
	PointColor    color.RGBA // Keypoints
}

// DefaultOptions returns default drawing options.
func DefaultOptions() Options {
	return Options{
		PointRadius:   3,
		LineThickness: 1,
		EdgeColor:     colorutil.Sky,
		PointColor:    colorutil.White,
	}
}

// Triangulation draws every hyperedge of g and every keypoint of s on a
// copy of img.
func Triangulation(img gocv.Mat, g *hypergraph.Hypergraph, s *keypoint.Set, opts Options) gocv.Mat {
	dst := img.Clone()
	if g != nil {
		for _, e := range g.Edges {
			drawTriangle(&dst, e, s, image.Point{}, opts.EdgeColor, opts.LineThickness)
		}
	}
	for _, kp := range s.Keypoints {
		gocv.Circle(&dst, toPoint(kp.Pt, image.Point{}), opts.PointRadius, opts.PointColor, -1)
	}
	return dst
}

// EdgeMatches places imgA and imgB side by side and draws each matched pair
// of triangles in its own color, joined at their centroids.
func EdgeMatches(imgA, imgB gocv.Mat, ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set, edges []match.EdgeMatch, opts Options) gocv.Mat {
	dst, offset := SideBySide(imgA, imgB)
	for i, em := range edges {
		col := ColorFor(i)
		eA, eB := ga.Edges[em.EdgeA], gb.Edges[em.EdgeB]
		drawTriangle(&dst, eA, a, image.Point{}, col, opts.LineThickness)
		drawTriangle(&dst, eB, b, offset, col, opts.LineThickness)
		gocv.Line(&dst, toPoint(centroid(eA, a), image.Point{}), toPoint(centroid(eB, b), offset), col, opts.LineThickness)
	}
	return dst
}

// PointMatches places imgA and imgB side by side and joins matched points.
func PointMatches(imgA, imgB gocv.Mat, a, b *keypoint.Set, points []match.PointMatch, opts Options) gocv.Mat {
	dst, offset := SideBySide(imgA, imgB)
	for i, pm := range points {
		col := ColorFor(i)
		pa := toPoint(a.Point(pm.A), image.Point{})
		pb := toPoint(b.Point(pm.B), offset)
		gocv.Circle(&dst, pa, opts.PointRadius, col, opts.LineThickness)
		gocv.Circle(&dst, pb, opts.PointRadius, col, opts.LineThickness)
		gocv.Line(&dst, pa, pb, col, opts.LineThickness)
	}
	return dst
}

// SideBySide concatenates a and b horizontally, padding the shorter one at
// the bottom. It returns the offset of b's origin in the result.
func SideBySide(a, b gocv.Mat) (gocv.Mat, image.Point) {
	left, right := padToHeight(a, b.Rows()), padToHeight(b, a.Rows())
	defer left.Close()
	defer right.Close()

	dst := gocv.NewMat()
	gocv.Hconcat(left, right, &dst)
	return dst, image.Point{X: a.Cols()}
}

func padToHeight(m gocv.Mat, rows int) gocv.Mat {
	dst := gocv.NewMat()
	if m.Rows() >= rows {
		m.CopyTo(&dst)
		return dst
	}
	gocv.CopyMakeBorder(m, &dst, 0, rows-m.Rows(), 0, 0, gocv.BorderConstant, color.RGBA{})
	return dst
}

// Write saves m to path; the format follows the file extension.
func Write(path string, m gocv.Mat) error {
	if m.Empty() {
		return fmt.Errorf("write %s: empty image", path)
	}
	if !gocv.IMWrite(path, m) {
		return fmt.Errorf("write %s: encoder failed", path)
	}
	return nil
}

func drawTriangle(dst *gocv.Mat, e hypergraph.Hyperedge, s *keypoint.Set, offset image.Point, col color.RGBA, thickness int) {
	for k := 0; k < 3; k++ {
		p := toPoint(s.Point(e[k]), offset)
		q := toPoint(s.Point(e[(k+1)%3]), offset)
		gocv.Line(dst, p, q, col, thickness)
	}
}

func centroid(e hypergraph.Hyperedge, s *keypoint.Set) geometry.Point2D {
	sum := s.Point(e[0]).Add(s.Point(e[1])).Add(s.Point(e[2]))
	return sum.Scale(1.0 / 3)
}

func toPoint(p geometry.Point2D, offset image.Point) image.Point {
	return image.Point{X: int(p.X + 0.5), Y: int(p.Y + 0.5)}.Add(offset)
}
