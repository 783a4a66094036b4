package hypergraph

import (
	"errors"
	"fmt"
	"log/slog"

	"hypermatch/pkg/geometry"
)

// Builder turns one image's keypoints into a Hypergraph.
type Builder struct {
	bounds       geometry.Rect
	triangulator Triangulator
	logger       *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithTriangulator replaces the default Delaunay triangulator.
func WithTriangulator(t Triangulator) Option {
	return func(b *Builder) {
		b.triangulator = t
	}
}

// WithLogger sets the logger used for build diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a Builder for an image whose boundary is bounds.
// An empty bounds rectangle means "the bounding box of the points".
func NewBuilder(bounds geometry.Rect, opts ...Option) *Builder {
	b := &Builder{
		bounds:       bounds,
		triangulator: DelaunayTriangulator{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Build triangulates points and returns their hyperedges in the order the
// triangulator emitted them. Fewer than three points, or input with no
// triangulation, yields an empty Hypergraph and no error.
func (b *Builder) Build(points []geometry.Point2D) (*Hypergraph, error) {
	g := &Hypergraph{NumPoints: len(points)}
	if len(points) < 3 {
		return g, nil
	}

	bounds := b.bounds
	if bounds.Empty() {
		bounds = geometry.BoundingBox(points)
	}

	tris, err := b.triangulator.Triangulate(bounds, points)
	if err != nil {
		if errors.Is(err, ErrNoTriangulation) {
			b.logger.Debug("[hypergraph] no triangulation", "points", len(points), "reason", err)
			return g, nil
		}
		return nil, fmt.Errorf("triangulate %d points: %w", len(points), err)
	}

	index := newCoordIndex(points)
	g.Stats.Candidates = len(tris)
	g.Edges = make([]Hyperedge, 0, len(tris))

	for _, tri := range tris {
		if !insideAll(bounds, tri) {
			g.Stats.OutsideBounds++
			continue
		}
		edge, ok := index.resolve(tri)
		if !ok {
			g.Stats.Unresolved++
			continue
		}
		if !edge.distinct() {
			g.Stats.Degenerate++
			continue
		}
		g.Edges = append(g.Edges, edge)
	}

	if g.Stats.Rejected() > 0 {
		b.logger.Debug("[hypergraph] rejected triangles",
			"outside_bounds", g.Stats.OutsideBounds,
			"unresolved", g.Stats.Unresolved,
			"degenerate", g.Stats.Degenerate)
	}
	b.logger.Debug("[hypergraph] built",
		"points", len(points), "candidates", g.Stats.Candidates, "edges", len(g.Edges))
	return g, nil
}

func insideAll(bounds geometry.Rect, tri Triangle) bool {
	for _, v := range tri {
		if !bounds.Contains(v.Pt) {
			return false
		}
	}
	return true
}

// coordIndex maps exact coordinates back to point identities. When several
// points share a coordinate the first one wins, so lookups are stable.
type coordIndex struct {
	ids map[geometry.Point2D]int
	n   int
}

func newCoordIndex(points []geometry.Point2D) coordIndex {
	ids := make(map[geometry.Point2D]int, len(points))
	for i, p := range points {
		if _, taken := ids[p]; !taken {
			ids[p] = i
		}
	}
	return coordIndex{ids: ids, n: len(points)}
}

// resolve maps each vertex to an identity, preferring the vertex's own tag.
func (c coordIndex) resolve(tri Triangle) (Hyperedge, bool) {
	var e Hyperedge
	for k, v := range tri {
		if v.ID >= 0 {
			if v.ID >= c.n {
				return e, false
			}
			e[k] = v.ID
			continue
		}
		id, ok := c.ids[v.Pt]
		if !ok {
			return e, false
		}
		e[k] = id
	}
	return e, true
}
