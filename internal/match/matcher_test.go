package match

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"hypermatch/internal/hypergraph"
	"hypermatch/internal/keypoint"
	"hypermatch/internal/similarity"
	"hypermatch/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func pt(x, y float64) geometry.Point2D {
	return geometry.NewPoint2D(x, y)
}

func oneHot(dim, k int, scale float64) []float64 {
	row := make([]float64, dim)
	row[k] = scale
	return row
}

func mustSet(t *testing.T, pts []geometry.Point2D, desc [][]float64) *keypoint.Set {
	t.Helper()
	s, err := keypoint.FromPoints(pts, desc)
	require.NoError(t, err)
	return s
}

func mustMatcher(t *testing.T, p Params) *Matcher {
	t.Helper()
	m, err := NewMatcher(p)
	require.NoError(t, err)
	return m
}

// squareScene is a unit square in A and the same square translated by
// (5, 5) in B, with identical one-hot descriptors per corner.
func squareScene(t *testing.T) (ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set) {
	desc := [][]float64{oneHot(4, 0, 1), oneHot(4, 1, 1), oneHot(4, 2, 1), oneHot(4, 3, 1)}
	a = mustSet(t, []geometry.Point2D{pt(0, 0), pt(1, 0), pt(1, 1), pt(0, 1)}, desc)
	b = mustSet(t, []geometry.Point2D{pt(5, 5), pt(6, 5), pt(6, 6), pt(5, 6)}, desc)
	edges := []hypergraph.Hyperedge{{0, 1, 2}, {0, 2, 3}}
	ga = &hypergraph.Hypergraph{Edges: edges, NumPoints: 4}
	gb = &hypergraph.Hypergraph{Edges: edges, NumPoints: 4}
	return ga, gb, a, b
}

func newTestScorer(t *testing.T, m *Matcher, ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set) *similarity.Scorer {
	t.Helper()
	p := m.Params()
	s, err := similarity.NewScorer(ga.Edges, gb.Edges, a, b, similarity.Config{
		Weights:   p.Weights,
		Sigma:     p.Sigma,
		DescSigma: p.DescSigma,
	})
	require.NoError(t, err)
	return s
}

func randomScene(t *testing.T, seed int64, n int) (*hypergraph.Hypergraph, *keypoint.Set) {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]geometry.Point2D, n)
	desc := make([][]float64, n)
	for i := range pts {
		pts[i] = pt(rng.Float64()*100, rng.Float64()*100)
		desc[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
	}
	s := mustSet(t, pts, desc)
	g, err := hypergraph.NewBuilder(geometry.NewRect(0, 0, 100, 100)).Build(pts)
	require.NoError(t, err)
	require.NotEmpty(t, g.Edges)
	return g, s
}

func TestMatchTranslatedSquare(t *testing.T) {
	ga, gb, a, b := squareScene(t)

	for _, backend := range []Backend{BackendSequential, BackendParallel} {
		t.Run(backend.String(), func(t *testing.T) {
			m := mustMatcher(t, DefaultParams().WithBackend(backend, 2))
			res, err := m.Match(context.Background(), ga, gb, a, b)
			require.NoError(t, err)

			require.Len(t, res.Edges, 2)
			for i, em := range res.Edges {
				assert.Equal(t, i, em.EdgeA)
				assert.Equal(t, i, em.EdgeB)
				assert.InDelta(t, 1.0, em.Score, 1e-12)
				assert.Equal(t, 1.0, em.Area)
				assert.Equal(t, 1.0, em.Angle)
				assert.Equal(t, 1.0, em.Desc)
			}

			assert.Equal(t, []PointMatch{{0, 0, 0}, {1, 1, 0}, {2, 2, 0}, {3, 3, 0}}, res.Points)
			assert.Equal(t, 2, res.Stats.EdgeMatches)
			assert.Equal(t, 0, res.Stats.Unmatched)
			assert.Equal(t, 4, res.Stats.PointMatches)
			assert.Equal(t, backend, res.Stats.Backend)
			assert.False(t, res.Stats.FellBack)
		})
	}
}

func TestMatchTranslatedSquareBuilt(t *testing.T) {
	// The triangulator may pick either diagonal of each square, so only the
	// geometric measures are pinned here.
	desc := [][]float64{{0.10, 0}, {0.11, 0}, {0.12, 0}, {0.13, 0}}
	a := mustSet(t, []geometry.Point2D{pt(0, 0), pt(1, 0), pt(1, 1), pt(0, 1)}, desc)
	b := mustSet(t, []geometry.Point2D{pt(5, 5), pt(6, 5), pt(6, 6), pt(5, 6)}, desc)

	ga, err := hypergraph.NewBuilder(geometry.NewRect(0, 0, 1, 1)).Build(a.Points())
	require.NoError(t, err)
	gb, err := hypergraph.NewBuilder(geometry.NewRect(5, 5, 1, 1)).Build(b.Points())
	require.NoError(t, err)
	require.Len(t, ga.Edges, 2)
	require.Len(t, gb.Edges, 2)

	m := mustMatcher(t, DefaultParams().WithBackend(BackendSequential, 0))
	edges, err := m.MatchEdges(context.Background(), ga, gb, a, b)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, em := range edges {
		assert.InDelta(t, 1.0, em.Area, 1e-12)
		assert.InDelta(t, 1.0, em.Angle, 1e-12)
		assert.GreaterOrEqual(t, em.Score, 0.75)
	}
}

func TestMatchOrthogonalDescriptors(t *testing.T) {
	a := mustSet(t,
		[]geometry.Point2D{pt(0, 0), pt(1, 0), pt(1, 1), pt(0, 1)},
		[][]float64{oneHot(8, 0, 1), oneHot(8, 1, 1), oneHot(8, 2, 1), oneHot(8, 3, 1)},
	)
	b := mustSet(t,
		[]geometry.Point2D{pt(0, 0), pt(10, 0), pt(10, 10), pt(0, 10)},
		[][]float64{oneHot(8, 4, 1), oneHot(8, 5, 1), oneHot(8, 6, 1), oneHot(8, 7, 1)},
	)
	edges := []hypergraph.Hyperedge{{0, 1, 2}, {0, 2, 3}}
	ga := &hypergraph.Hypergraph{Edges: edges, NumPoints: 4}
	gb := &hypergraph.Hypergraph{Edges: edges, NumPoints: 4}

	m := mustMatcher(t, DefaultParams().WithThreshold(0.5))
	res, err := m.Match(context.Background(), ga, gb, a, b)
	require.NoError(t, err)
	assert.Empty(t, res.Edges)
	assert.Empty(t, res.Points)
	assert.Equal(t, 2, res.Stats.Unmatched)
}

func TestMatchMonotonicInThreshold(t *testing.T) {
	ga, a := randomScene(t, 1, 30)
	gb, b := randomScene(t, 2, 30)

	var prev map[EdgeMatch]bool
	for _, tau := range []float64{0.05, 0.2, 0.4, 0.5, 0.6, 0.75, 0.9, 1} {
		m := mustMatcher(t, DefaultParams().WithThreshold(tau).WithBackend(BackendSequential, 0))
		edges, err := m.MatchEdges(context.Background(), ga, gb, a, b)
		require.NoError(t, err)

		cur := make(map[EdgeMatch]bool, len(edges))
		for _, em := range edges {
			assert.GreaterOrEqual(t, em.Score, tau)
			cur[em] = true
			if prev != nil {
				assert.True(t, prev[em], "tau %g added %+v", tau, em)
			}
		}
		prev = cur
	}
}

func TestBackendsProduceIdenticalMatrices(t *testing.T) {
	ga, a := randomScene(t, 3, 40)
	gb, b := randomScene(t, 4, 35)

	m := mustMatcher(t, DefaultParams())
	scorer := newTestScorer(t, m, ga, gb, a, b)

	seq, err := ComputeScores(context.Background(), scorer, DefaultParams().WithBackend(BackendSequential, 0))
	require.NoError(t, err)
	for _, workers := range []int{1, 3, 16} {
		par, err := ComputeScores(context.Background(), scorer, DefaultParams().WithBackend(BackendParallel, workers))
		require.NoError(t, err)
		assert.True(t, mat.Equal(seq.Dense(), par.Dense()), "workers=%d", workers)
	}
}

func TestBestPerRow(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		cols int
		tau  float64
		want []EdgeMatch
	}{
		{
			name: "FirstOfTiesWins",
			data: []float64{0.8, 0.8, 0.1},
			cols: 3, tau: 0.75,
			want: []EdgeMatch{{EdgeA: 0, EdgeB: 0, Score: 0.8}},
		},
		{
			name: "BestBelowThreshold",
			data: []float64{0.5, 0.74, 0.74},
			cols: 3, tau: 0.75,
		},
		{
			name: "ExactlyAtThreshold",
			data: []float64{0.2, 0.75},
			cols: 2, tau: 0.75,
			want: []EdgeMatch{{EdgeA: 0, EdgeB: 1, Score: 0.75}},
		},
		{
			name: "ManyRowsShareColumn",
			data: []float64{0.9, 0.1, 0.95, 0.2, 0.3, 0.4},
			cols: 2, tau: 0.35,
			want: []EdgeMatch{
				{EdgeA: 0, EdgeB: 0, Score: 0.9},
				{EdgeA: 1, EdgeB: 0, Score: 0.95},
				{EdgeA: 2, EdgeB: 1, Score: 0.4},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newScoreMatrix(len(tt.data)/tt.cols, tt.cols, tt.data)
			assert.Equal(t, tt.want, bestPerRow(m, tt.tau))
		})
	}
}

func TestMatchEmptyGraphs(t *testing.T) {
	_, gb, a, b := squareScene(t)
	m := mustMatcher(t, DefaultParams())

	edges, err := m.MatchEdges(context.Background(), &hypergraph.Hypergraph{}, gb, a, b)
	require.NoError(t, err)
	assert.Empty(t, edges)

	res, err := m.Match(context.Background(), gb, nil, b, a)
	require.NoError(t, err)
	assert.Empty(t, res.Edges)
	assert.Equal(t, 2, res.Stats.Unmatched)
}

func TestMatchRejectsOutOfRangeEdges(t *testing.T) {
	ga, gb, a, b := squareScene(t)
	bad := &hypergraph.Hypergraph{Edges: append([]hypergraph.Hyperedge{}, ga.Edges[0], hypergraph.Hyperedge{0, 1, 7})}

	_, err := mustMatcher(t, DefaultParams()).MatchEdges(context.Background(), bad, gb, a, b)
	require.ErrorIs(t, err, hypergraph.ErrEdgeOutOfRange)
}

func TestBackendFailure(t *testing.T) {
	ga, gb, a, b := squareScene(t)
	p := DefaultParams().WithBackend(BackendParallel, 2)
	p.MaxMatrixCells = 1

	t.Run("Reported", func(t *testing.T) {
		p := p
		p.Fallback = false
		_, err := mustMatcher(t, p).MatchEdges(context.Background(), ga, gb, a, b)
		require.ErrorIs(t, err, ErrBackend)
		assert.True(t, IsBackendFailure(err))

		var be *BackendError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, BackendParallel, be.Backend)
	})

	t.Run("FallsBackToSequential", func(t *testing.T) {
		res, err := mustMatcher(t, p).Match(context.Background(), ga, gb, a, b)
		require.NoError(t, err)
		assert.Len(t, res.Edges, 2)
		assert.True(t, res.Stats.FellBack)
		assert.Equal(t, BackendSequential, res.Stats.Backend)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := mustMatcher(t, p).MatchEdges(ctx, ga, gb, a, b)
		require.ErrorIs(t, err, ErrBackend)
		require.ErrorIs(t, err, context.Canceled)
	})
}

type panicScorer struct{}

func (panicScorer) Dims() (int, int) { return 4, 4 }

func (panicScorer) Combined(i, j int) float64 {
	if i == 2 {
		panic("bad row")
	}
	return 0.5
}

func TestParallelRecoversWorkerPanic(t *testing.T) {
	_, err := ComputeScores(context.Background(), panicScorer{}, DefaultParams().WithBackend(BackendParallel, 2))
	require.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "bad row")
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Params)
		wantErr error
	}{
		{"Defaults", func(*Params) {}, nil},
		{"ThresholdOne", func(p *Params) { p.Threshold = 1 }, nil},
		{"ThresholdZero", func(p *Params) { p.Threshold = 0 }, ErrInvalidThreshold},
		{"ThresholdAboveOne", func(p *Params) { p.Threshold = 1.2 }, ErrInvalidThreshold},
		{"NegativePointThreshold", func(p *Params) { p.PointThreshold = -1 }, ErrInvalidThreshold},
		{"NegativeWorkers", func(p *Params) { p.Workers = -1 }, ErrInvalidParams},
		{"UnknownBackend", func(p *Params) { p.Backend = Backend(9) }, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			err := p.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseBackendAndDedup(t *testing.T) {
	b, err := ParseBackend("Parallel")
	require.NoError(t, err)
	assert.Equal(t, BackendParallel, b)
	_, err = ParseBackend("gpu")
	assert.ErrorIs(t, err, ErrInvalidParams)

	d, err := ParseDedup("one-to-one")
	require.NoError(t, err)
	assert.Equal(t, DedupOneToOne, d)
	assert.Equal(t, "pairs", DedupPairs.String())
}
