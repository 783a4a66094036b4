package similarity

import (
	"errors"
	"fmt"

	"hypermatch/internal/hypergraph"
	"hypermatch/internal/keypoint"
	"hypermatch/pkg/geometry"
)

// ErrInvalidWeights is returned for negative weights or weights summing to zero.
var ErrInvalidWeights = errors.New("weights must be non-negative with a positive sum")

// ErrInvalidSigma is returned for a non-positive normalization constant.
var ErrInvalidSigma = errors.New("sigma must be positive")

// Weights are the coefficients of the combined score.
type Weights struct {
	Area  float64 `json:"area" yaml:"area" env:"CRAT"`
	Angle float64 `json:"angle" yaml:"angle" env:"CANG"`
	Desc  float64 `json:"descriptor" yaml:"descriptor" env:"CDESC"`
}

// EqualWeights returns weight 1 for every measure.
func EqualWeights() Weights {
	return Weights{Area: 1, Angle: 1, Desc: 1}
}

// Normalize returns w scaled so the three weights sum to 1.
func (w Weights) Normalize() (Weights, error) {
	if w.Area < 0 || w.Angle < 0 || w.Desc < 0 {
		return Weights{}, fmt.Errorf("%w: %+v", ErrInvalidWeights, w)
	}
	sum := w.Area + w.Angle + w.Desc
	if sum <= 0 {
		return Weights{}, fmt.Errorf("%w: %+v", ErrInvalidWeights, w)
	}
	return Weights{Area: w.Area / sum, Angle: w.Angle / sum, Desc: w.Desc / sum}, nil
}

// Score is the similarity of one hyperedge pair.
type Score struct {
	Area     float64 `json:"area"`
	Angle    float64 `json:"angle"`
	Desc     float64 `json:"descriptor"`
	Combined float64 `json:"combined"`
}

// Scorer evaluates hyperedge pairs of two hypergraphs. It is the single
// per-pair function shared by every execution backend; it holds no mutable
// state after construction and is safe for concurrent use.
type Scorer struct {
	edgesA, edgesB []hypergraph.Hyperedge
	a, b           *keypoint.Set
	weights        Weights
	sigma          float64
	descSigma      float64

	// Per-edge geometry, computed once.
	rootsA, rootsB []float64
	sinesA, sinesB [][3]float64
}

// Config holds the scoring constants.
type Config struct {
	Weights   Weights
	Sigma     float64 // Normalizes the area and angle measures
	DescSigma float64 // Normalizes the descriptor measure; 1 leaves it unscaled
}

// NewScorer prepares a Scorer for edgesA x edgesB. Weights are normalized.
func NewScorer(edgesA, edgesB []hypergraph.Hyperedge, a, b *keypoint.Set, cfg Config) (*Scorer, error) {
	w, err := cfg.Weights.Normalize()
	if err != nil {
		return nil, err
	}
	if cfg.Sigma <= 0 || cfg.DescSigma <= 0 {
		return nil, fmt.Errorf("%w: sigma=%g desc_sigma=%g", ErrInvalidSigma, cfg.Sigma, cfg.DescSigma)
	}

	s := &Scorer{
		edgesA:    edgesA,
		edgesB:    edgesB,
		a:         a,
		b:         b,
		weights:   w,
		sigma:     cfg.Sigma,
		descSigma: cfg.DescSigma,
	}
	s.rootsA, s.sinesA = edgeGeometry(edgesA, a)
	s.rootsB, s.sinesB = edgeGeometry(edgesB, b)
	return s, nil
}

func edgeGeometry(edges []hypergraph.Hyperedge, s *keypoint.Set) ([]float64, [][3]float64) {
	roots := make([]float64, len(edges))
	sines := make([][3]float64, len(edges))
	for i, e := range edges {
		tri := Triangle(e, s)
		roots[i] = rootArea(tri)
		sines[i] = geometry.InteriorSines(tri)
	}
	return roots, sines
}

// Dims returns the number of edges on each side.
func (s *Scorer) Dims() (int, int) {
	return len(s.edgesA), len(s.edgesB)
}

// Weights returns the normalized weights in use.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns all measures for edge i of A against edge j of B.
func (s *Scorer) Score(i, j int) Score {
	sc := Score{
		Area:  areaFromRoots(s.rootsA[i], s.rootsB[j], s.sigma),
		Angle: angleFromSines(s.sinesA[i], s.sinesB[j], s.sigma),
		Desc:  DescScaled(s.edgesA[i], s.edgesB[j], s.a, s.b, s.descSigma),
	}
	sc.Combined = s.weights.Area*sc.Area + s.weights.Angle*sc.Angle + s.weights.Desc*sc.Desc
	return sc
}

// Combined returns the weighted score of edge i of A against edge j of B.
func (s *Scorer) Combined(i, j int) float64 {
	return s.Score(i, j).Combined
}
