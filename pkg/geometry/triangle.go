package geometry

import "math"

// sidePairs lists the vertex pairs bounding each side of a triangle.
var sidePairs = [3][2]int{{0, 1}, {0, 2}, {1, 2}}

// SideLengths returns the three side lengths of the triangle, ordered by
// the vertex pairs (0,1), (0,2), (1,2).
func SideLengths(tri [3]Point2D) [3]float64 {
	var sides [3]float64
	for i, pair := range sidePairs {
		sides[i] = tri[pair[0]].Distance(tri[pair[1]])
	}
	return sides
}

// HeronArea computes a triangle's area from its side lengths:
//
//	s = (a + b + c) / 2
//	area = sqrt(s*(s-a)*(s-b)*(s-c))
//
// Rounding can push the product slightly below zero for collinear
// triangles; such triangles have area 0.
func HeronArea(sides [3]float64) float64 {
	s := (sides[0] + sides[1] + sides[2]) / 2
	prod := s * (s - sides[0]) * (s - sides[1]) * (s - sides[2])
	if prod <= 0 || math.IsNaN(prod) {
		return 0
	}
	return math.Sqrt(prod)
}

// AngleSine returns the sine of the angle at pivot between the vectors
// pivot->p and pivot->q, computed as sin(acos(cos)). A zero-length vector
// yields 0.
func AngleSine(pivot, p, q Point2D) float64 {
	v1 := p.Sub(pivot)
	v2 := q.Sub(pivot)
	norms := v1.Norm() * v2.Norm()
	if norms == 0 {
		return 0
	}
	cos := v1.Dot(v2) / norms
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Sin(math.Acos(cos))
}

// InteriorSines returns the sine of the interior angle at each vertex, in
// vertex order.
func InteriorSines(tri [3]Point2D) [3]float64 {
	return [3]float64{
		AngleSine(tri[0], tri[1], tri[2]),
		AngleSine(tri[1], tri[0], tri[2]),
		AngleSine(tri[2], tri[0], tri[1]),
	}
}
