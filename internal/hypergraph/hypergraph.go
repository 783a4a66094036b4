// Package hypergraph builds triangular hypergraphs over 2-D keypoints.
//
// Each hyperedge is a triangle of three keypoint identities produced by a
// planar triangulation of one image's keypoints. Hypergraphs are built once
// per match request and are read-only afterwards.
package hypergraph

import (
	"errors"
	"fmt"
)

// ErrEdgeOutOfRange is returned when a hyperedge references an identity
// outside the keypoint list it is checked against.
var ErrEdgeOutOfRange = errors.New("hyperedge references unknown point")

// Hyperedge is an unordered triple of distinct point identities. The
// stored order is whatever the triangulation emitted and carries no meaning.
type Hyperedge [3]int

// Valid reports whether all identities index a list of n points and no
// identity repeats.
func (e Hyperedge) Valid(n int) bool {
	for _, id := range e {
		if id < 0 || id >= n {
			return false
		}
	}
	return e.distinct()
}

func (e Hyperedge) distinct() bool {
	return e[0] != e[1] && e[0] != e[2] && e[1] != e[2]
}

// BuildStats counts what happened to the candidate triangles of one build.
// Rejections are expected (outward triangles, coordinate round-off) and are
// never reported as errors.
type BuildStats struct {
	Candidates    int // Triangles emitted by the triangulator
	OutsideBounds int // Rejected: a vertex lies outside the image rectangle
	Unresolved    int // Rejected: a vertex could not be mapped to a point identity
	Degenerate    int // Rejected: two vertices resolved to the same identity
}

// Rejected returns the total number of discarded triangles.
func (s BuildStats) Rejected() int {
	return s.OutsideBounds + s.Unresolved + s.Degenerate
}

// Hypergraph is the set of hyperedges of one image.
type Hypergraph struct {
	Edges     []Hyperedge
	NumPoints int // Size of the point list the edges index into
	Stats     BuildStats
}

// Len returns the number of hyperedges.
func (g *Hypergraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Edges)
}

// Validate checks every hyperedge against a point list of length n.
func (g *Hypergraph) Validate(n int) error {
	if g == nil {
		return nil
	}
	for i, e := range g.Edges {
		if !e.Valid(n) {
			return fmt.Errorf("%w: edge %d %v with %d points", ErrEdgeOutOfRange, i, e, n)
		}
	}
	return nil
}
