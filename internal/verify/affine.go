// Package verify checks point matches for geometric consistency by fitting
// an affine transform with RANSAC.
package verify

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"hypermatch/internal/keypoint"
	"hypermatch/internal/match"
	"hypermatch/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewMatches is returned when fewer than three correspondences are given.
	ErrTooFewMatches = errors.New("need at least 3 point matches")
	// ErrNoConsensus is returned when no sampled transform gathers enough inliers.
	ErrNoConsensus = errors.New("no affine transform with enough inliers")
)

// Params controls the RANSAC search.
type Params struct {
	Iterations int     // Random 3-point samples to try
	Threshold  float64 // Max reprojection error of an inlier, in pixels
	MinInliers int     // Fewest inliers accepted as consensus, at least 3
	Seed       int64   // Sampling seed, fixed so runs are reproducible
}

// DefaultParams returns the default verification parameters.
func DefaultParams() Params {
	return Params{
		Iterations: 2000,
		Threshold:  3.0,
		MinInliers: 3,
		Seed:       1,
	}
}

// Report is the outcome of a verification.
type Report struct {
	Transform   geometry.AffineTransform // Maps A coordinates to B coordinates
	Inliers     []int                    // Indices of consistent correspondences, ascending
	InlierRatio float64
	RMS         float64 // Root mean square reprojection error over inliers
	MeanError   float64 // Mean reprojection error over all correspondences
}

// InOriginalPixels returns Transform expressed between the original images
// when A and B were resized by scaleA and scaleB before detection. A
// non-positive scale counts as 1.
func (r *Report) InOriginalPixels(scaleA, scaleB float64) geometry.AffineTransform {
	toResizedA := geometry.Identity()
	if scaleA > 0 {
		toResizedA = geometry.Scaling(scaleA)
	}
	fromResizedB := geometry.Identity()
	if scaleB > 0 {
		fromResizedB = geometry.Scaling(1 / scaleB)
	}
	return fromResizedB.Compose(r.Transform).Compose(toResizedA)
}

// Matches fits an affine transform from A to B over the coordinates of
// point matches.
func Matches(matches []match.PointMatch, a, b *keypoint.Set, p Params) (*Report, error) {
	src := make([]geometry.Point2D, len(matches))
	dst := make([]geometry.Point2D, len(matches))
	for i, pm := range matches {
		src[i] = a.Point(pm.A)
		dst[i] = b.Point(pm.B)
	}
	return Affine(src, dst, p)
}

// Affine fits an affine transform mapping src[i] to dst[i] with RANSAC,
// then refines it by least squares over the inliers.
func Affine(src, dst []geometry.Point2D, p Params) (*Report, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewMatches, len(src))
	}
	minInliers := max(p.MinInliers, 3)

	rng := rand.New(rand.NewSource(p.Seed))
	n := len(src)
	var bestInliers []int
	var bestTransform geometry.AffineTransform

	sample := make([]geometry.Point2D, 3)
	target := make([]geometry.Point2D, 3)
	for iter := 0; iter < p.Iterations; iter++ {
		for k, idx := range sampleThree(rng, n) {
			sample[k] = src[idx]
			target[k] = dst[idx]
		}

		transform, err := affineFromThree(sample, target)
		if err != nil {
			continue
		}

		inliers := inliersOf(transform, src, dst, p.Threshold)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			bestTransform = transform
			if len(inliers) == n {
				break
			}
		}
	}

	if len(bestInliers) < minInliers {
		return nil, fmt.Errorf("%w: best sample had %d of %d", ErrNoConsensus, len(bestInliers), n)
	}

	// Refine over all inliers; keep the sample fit if the refit is singular.
	inlierSrc := make([]geometry.Point2D, len(bestInliers))
	inlierDst := make([]geometry.Point2D, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = src[idx]
		inlierDst[i] = dst[idx]
	}
	if refined, err := affineLeastSquares(inlierSrc, inlierDst); err == nil {
		bestTransform = refined
	}

	return &Report{
		Transform:   bestTransform,
		Inliers:     bestInliers,
		InlierRatio: float64(len(bestInliers)) / float64(n),
		RMS:         rmsError(inlierSrc, inlierDst, bestTransform),
		MeanError:   MeanError(src, dst, bestTransform),
	}, nil
}

// MeanError returns the mean distance between transform(src[i]) and dst[i].
func MeanError(src, dst []geometry.Point2D, transform geometry.AffineTransform) float64 {
	if len(src) != len(dst) || len(src) == 0 {
		return math.Inf(1)
	}
	var total float64
	for i := range src {
		total += transform.Apply(src[i]).Distance(dst[i])
	}
	return total / float64(len(src))
}

func rmsError(src, dst []geometry.Point2D, transform geometry.AffineTransform) float64 {
	var sum float64
	for i := range src {
		d := transform.Apply(src[i]).Distance(dst[i])
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(src)))
}

func inliersOf(transform geometry.AffineTransform, src, dst []geometry.Point2D, threshold float64) []int {
	var inliers []int
	for i := range src {
		if transform.Apply(src[i]).Distance(dst[i]) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// sampleThree draws three distinct indices below n.
func sampleThree(rng *rand.Rand, n int) [3]int {
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	k := rng.Intn(n - 2)
	lo, hi := min(i, j), max(i, j)
	if k >= lo {
		k++
	}
	if k >= hi {
		k++
	}
	return [3]int{i, j, k}
}

// affineFromThree solves the affine transform through exactly 3 point pairs.
func affineFromThree(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	A, B := affineSystem(src, dst)

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return geometry.AffineTransform{}, err
	}
	return transformFromParams(&params), nil
}

// affineLeastSquares fits an affine transform to n >= 3 point pairs by QR.
func affineLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("%w: got %d", ErrTooFewMatches, len(src))
	}
	A, B := affineSystem(src, dst)

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}
	return transformFromParams(&params), nil
}

// affineSystem builds the 2n x 6 system for
// [x', y'] = [a, b, tx; c, d, ty] * [x, y, 1].
func affineSystem(src, dst []geometry.Point2D) (*mat.Dense, *mat.VecDense) {
	n := len(src)
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, dst[i].X)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, dst[i].Y)
	}
	return A, B
}

func transformFromParams(params *mat.VecDense) geometry.AffineTransform {
	return geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}
}
