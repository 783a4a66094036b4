// Package similarity compares triangular hyperedges of two images.
//
// Three measures are provided, each in (0, 1] with 1 meaning identical:
//
//   - Area compares the square roots of the triangle areas (Heron's formula).
//   - Angle compares the sines of the interior angles.
//   - Desc compares the descriptors of the three vertices.
//
// A triangle has no canonical vertex order, so Angle and Desc take the
// minimum distance over all six orderings of the second hyperedge.
package similarity

import (
	"math"

	"hypermatch/internal/hypergraph"
	"hypermatch/internal/keypoint"
	"hypermatch/pkg/geometry"

	"gonum.org/v1/gonum/floats"
)

// Permutations lists the six orderings of a triangle's vertices.
var Permutations = [6][3]int{
	{0, 1, 2},
	{0, 2, 1},
	{1, 0, 2},
	{1, 2, 0},
	{2, 0, 1},
	{2, 1, 0},
}

// Triangle returns the coordinates of e's vertices in e's order.
func Triangle(e hypergraph.Hyperedge, s *keypoint.Set) [3]geometry.Point2D {
	return [3]geometry.Point2D{s.Point(e[0]), s.Point(e[1]), s.Point(e[2])}
}

// Area returns exp(-|sqrt(areaA) - sqrt(areaB)| / sigma).
func Area(eA, eB hypergraph.Hyperedge, a, b *keypoint.Set, sigma float64) float64 {
	return areaFromRoots(rootArea(Triangle(eA, a)), rootArea(Triangle(eB, b)), sigma)
}

// Angle returns exp(-d / sigma) where d is the smallest L1 distance between
// eA's interior-angle sines and any ordering of eB's.
func Angle(eA, eB hypergraph.Hyperedge, a, b *keypoint.Set, sigma float64) float64 {
	return angleFromSines(geometry.InteriorSines(Triangle(eA, a)), geometry.InteriorSines(Triangle(eB, b)), sigma)
}

// Desc returns exp(-d) where d is the smallest total descriptor distance
// over the orderings of eB's vertices.
func Desc(eA, eB hypergraph.Hyperedge, a, b *keypoint.Set) float64 {
	return DescScaled(eA, eB, a, b, 1)
}

// DescScaled is Desc with the distance divided by sigma. sigma = 1 gives
// exactly Desc.
func DescScaled(eA, eB hypergraph.Hyperedge, a, b *keypoint.Set, sigma float64) float64 {
	_, total := BestPairing(eA, eB, a, b)
	return math.Exp(-total / sigma)
}

// BestPairing returns the ordering p of eB's vertices minimizing
// sum_k dist(descA[eA[k]], descB[eB[p[k]]]), and that sum. Ties keep the
// earliest ordering in Permutations.
func BestPairing(eA, eB hypergraph.Hyperedge, a, b *keypoint.Set) ([3]int, float64) {
	return bestPairing(pairDistances(eA, eB, a, b))
}

// pairDistances returns the 3x3 descriptor distances between the vertices of
// eA (rows) and eB (columns).
func pairDistances(eA, eB hypergraph.Hyperedge, a, b *keypoint.Set) [3][3]float64 {
	var d [3][3]float64
	for k := 0; k < 3; k++ {
		rowA := a.Descriptor(eA[k])
		for m := 0; m < 3; m++ {
			d[k][m] = DescriptorDistance(rowA, b.Descriptor(eB[m]))
		}
	}
	return d
}

func bestPairing(d [3][3]float64) ([3]int, float64) {
	best := Permutations[0]
	bestTotal := math.Inf(1)
	for _, p := range Permutations {
		total := d[0][p[0]] + d[1][p[1]] + d[2][p[2]]
		if total < bestTotal {
			best, bestTotal = p, total
		}
	}
	return best, bestTotal
}

// DescriptorDistance is the Euclidean norm of x - y. Rows of different width
// are compared over their shared prefix and the remaining components of the
// longer row count against zero.
func DescriptorDistance(x, y []float64) float64 {
	if len(x) == len(y) {
		return floats.Distance(x, y, 2)
	}
	if len(x) > len(y) {
		x, y = y, x
	}
	n := len(x)
	head := 0.0
	if n > 0 {
		head = floats.Distance(x, y[:n], 2)
	}
	tail := y[n:]
	return math.Sqrt(head*head + floats.Dot(tail, tail))
}

func rootArea(tri [3]geometry.Point2D) float64 {
	return math.Sqrt(geometry.HeronArea(geometry.SideLengths(tri)))
}

func areaFromRoots(rootA, rootB, sigma float64) float64 {
	return math.Exp(-math.Abs(rootA-rootB) / sigma)
}

func angleFromSines(sinesA, sinesB [3]float64, sigma float64) float64 {
	minDist := math.Inf(1)
	for _, p := range Permutations {
		permuted := [3]float64{sinesB[p[0]], sinesB[p[1]], sinesB[p[2]]}
		if d := floats.Distance(sinesA[:], permuted[:], 1); d < minDist {
			minDist = d
		}
	}
	return math.Exp(-minDist / sigma)
}
