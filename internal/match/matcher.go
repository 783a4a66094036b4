// Package match pairs the hyperedges of two hypergraphs and derives point
// correspondences from the accepted pairs.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"hypermatch/internal/hypergraph"
	"hypermatch/internal/keypoint"
	"hypermatch/internal/similarity"
)

// EdgeMatch pairs edge EdgeA of hypergraph A with edge EdgeB of hypergraph B.
type EdgeMatch struct {
	EdgeA int     `json:"edge_a"`
	EdgeB int     `json:"edge_b"`
	Score float64 `json:"score"` // Combined score, >= the threshold

	Area  float64 `json:"area"`
	Angle float64 `json:"angle"`
	Desc  float64 `json:"descriptor"`
}

// Stats summarizes one match run.
type Stats struct {
	EdgesA       int     // Hyperedges in A
	EdgesB       int     // Hyperedges in B
	EdgeMatches  int     // Accepted edge pairs
	Unmatched    int     // Edges of A with no pair at or above the threshold
	AvgScore     float64 // Mean combined score of accepted pairs
	MinScore     float64 // Lowest combined score of accepted pairs
	PointMatches int     // Point pairs after dedup
	AvgDistance  float64 // Mean descriptor distance of point pairs
	MaxDistance  float64 // Largest descriptor distance of point pairs
	Backend      Backend // Backend that produced the score matrix
	FellBack     bool    // The configured backend failed and sequential was used
}

// Result is the output of Matcher.Match.
type Result struct {
	Edges  []EdgeMatch
	Points []PointMatch
	Stats  Stats
}

// Matcher matches hyperedges and points between two images. It is safe for
// concurrent use; no state is kept between calls.
type Matcher struct {
	params Params
	logger *slog.Logger
}

// NewMatcher validates p and returns a Matcher.
func NewMatcher(p Params) (*Matcher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{params: p, logger: logger}, nil
}

// Params returns the matcher's parameters.
func (m *Matcher) Params() Params {
	return m.params
}

// MatchEdges returns, for each edge of ga in order, its best pair in gb when
// the combined score reaches the threshold. An edge of gb may be paired with
// any number of edges of ga.
func (m *Matcher) MatchEdges(ctx context.Context, ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set) ([]EdgeMatch, error) {
	edges, _, err := m.matchEdges(ctx, ga, gb, a, b)
	return edges, err
}

// MatchPoints derives point pairs from edge matches using the matcher's
// distance threshold and dedup policy.
func (m *Matcher) MatchPoints(edges []EdgeMatch, ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set) []PointMatch {
	return MatchPoints(edges, ga, gb, a, b, m.params.PointThreshold, m.params.Dedup)
}

// Match runs edge matching followed by point matching.
func (m *Matcher) Match(ctx context.Context, ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set) (*Result, error) {
	edges, stats, err := m.matchEdges(ctx, ga, gb, a, b)
	if err != nil {
		return nil, err
	}
	points := m.MatchPoints(edges, ga, gb, a, b)

	stats.PointMatches = len(points)
	for _, pm := range points {
		stats.AvgDistance += pm.Distance
		stats.MaxDistance = math.Max(stats.MaxDistance, pm.Distance)
	}
	if len(points) > 0 {
		stats.AvgDistance /= float64(len(points))
	}

	m.logger.Info("[match] done",
		"edges_a", stats.EdgesA, "edges_b", stats.EdgesB,
		"edge_matches", stats.EdgeMatches, "point_matches", stats.PointMatches,
		"backend", stats.Backend.String(), "fell_back", stats.FellBack)
	return &Result{Edges: edges, Points: points, Stats: stats}, nil
}

func (m *Matcher) matchEdges(ctx context.Context, ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set) ([]EdgeMatch, Stats, error) {
	stats := Stats{EdgesA: ga.Len(), EdgesB: gb.Len(), Backend: m.params.Backend}
	if stats.EdgesA == 0 || stats.EdgesB == 0 {
		stats.Unmatched = stats.EdgesA
		return nil, stats, nil
	}
	if err := ga.Validate(a.Len()); err != nil {
		return nil, stats, fmt.Errorf("hypergraph A: %w", err)
	}
	if err := gb.Validate(b.Len()); err != nil {
		return nil, stats, fmt.Errorf("hypergraph B: %w", err)
	}

	scorer, err := similarity.NewScorer(ga.Edges, gb.Edges, a, b, similarity.Config{
		Weights:   m.params.Weights,
		Sigma:     m.params.Sigma,
		DescSigma: m.params.DescSigma,
	})
	if err != nil {
		return nil, stats, err
	}

	scores, err := ComputeScores(ctx, scorer, m.params)
	if err != nil {
		if !m.params.Fallback || m.params.Backend == BackendSequential || ctx.Err() != nil {
			return nil, stats, err
		}
		m.logger.Warn("[match] backend failed, retrying sequentially",
			"backend", m.params.Backend.String(), "error", err)
		scores, err = ComputeScores(ctx, scorer, m.params.WithBackend(BackendSequential, 0))
		if err != nil {
			return nil, stats, err
		}
		stats.Backend = BackendSequential
		stats.FellBack = true
	}

	edges := bestPerRow(scores, m.params.Threshold)
	for k := range edges {
		sc := scorer.Score(edges[k].EdgeA, edges[k].EdgeB)
		edges[k].Area, edges[k].Angle, edges[k].Desc = sc.Area, sc.Angle, sc.Desc
	}

	stats.EdgeMatches = len(edges)
	stats.Unmatched = stats.EdgesA - len(edges)
	if len(edges) > 0 {
		stats.MinScore = math.Inf(1)
		for _, em := range edges {
			stats.AvgScore += em.Score
			stats.MinScore = math.Min(stats.MinScore, em.Score)
		}
		stats.AvgScore /= float64(len(edges))
	}

	m.logger.Debug("[match] edges",
		"rows", stats.EdgesA, "cols", stats.EdgesB, "accepted", stats.EdgeMatches,
		"threshold", m.params.Threshold)
	return edges, stats, nil
}

// IsBackendFailure reports whether err came from a score backend.
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrBackend)
}
