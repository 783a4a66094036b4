package match

import (
	"testing"

	"hypermatch/internal/hypergraph"
	"hypermatch/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPointsThresholdAndOrder(t *testing.T) {
	// B lists A's corners rotated by one position; descriptor 2 is off by 0.5.
	a := mustSet(t,
		[]geometry.Point2D{pt(0, 0), pt(2, 0), pt(0, 2)},
		[][]float64{{1, 0}, {0, 1}, {3, 3}},
	)
	b := mustSet(t,
		[]geometry.Point2D{pt(0, 2), pt(0, 0), pt(2, 0)},
		[][]float64{{3, 3.5}, {1, 0.05}, {0, 1}},
	)
	ga := &hypergraph.Hypergraph{Edges: []hypergraph.Hyperedge{{0, 1, 2}}, NumPoints: 3}
	gb := &hypergraph.Hypergraph{Edges: []hypergraph.Hyperedge{{0, 1, 2}}, NumPoints: 3}
	edges := []EdgeMatch{{EdgeA: 0, EdgeB: 0}}

	got := MatchPoints(edges, ga, gb, a, b, 0.1, DedupNone)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].A)
	assert.Equal(t, 1, got[0].B)
	assert.InDelta(t, 0.05, got[0].Distance, 1e-12)
	assert.Equal(t, PointMatch{A: 1, B: 2, Distance: 0}, got[1])

	all := MatchPoints(edges, ga, gb, a, b, 1, DedupNone)
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[2].A)
	assert.Equal(t, 0, all[2].B)
}

func TestMatchPointsDedupPolicies(t *testing.T) {
	ga, gb, a, b := squareScene(t)
	edges := []EdgeMatch{{EdgeA: 0, EdgeB: 0}, {EdgeA: 1, EdgeB: 1}}

	none := MatchPoints(edges, ga, gb, a, b, 0.1, DedupNone)
	assert.Len(t, none, 6)

	pairs := MatchPoints(edges, ga, gb, a, b, 0.1, DedupPairs)
	assert.Equal(t, []PointMatch{{0, 0, 0}, {1, 1, 0}, {2, 2, 0}, {3, 3, 0}}, pairs)
}

func TestDedupPairs(t *testing.T) {
	in := []PointMatch{
		{A: 1, B: 2, Distance: 0.05},
		{A: 3, B: 4, Distance: 0.02},
		{A: 1, B: 2, Distance: 0.01},
		{A: 1, B: 5, Distance: 0.03},
	}
	want := []PointMatch{
		{A: 1, B: 2, Distance: 0.01},
		{A: 3, B: 4, Distance: 0.02},
		{A: 1, B: 5, Distance: 0.03},
	}
	assert.Equal(t, want, dedupPairs(in))
	assert.Empty(t, dedupPairs(nil))
}

func TestDedupOneToOne(t *testing.T) {
	tests := []struct {
		name string
		in   []PointMatch
		want []PointMatch
	}{
		{
			name: "SmallerDistanceWins",
			in: []PointMatch{
				{A: 0, B: 0, Distance: 0.08},
				{A: 0, B: 1, Distance: 0.02},
				{A: 2, B: 1, Distance: 0.05},
				{A: 2, B: 3, Distance: 0.06},
			},
			want: []PointMatch{
				{A: 0, B: 1, Distance: 0.02},
				{A: 2, B: 3, Distance: 0.06},
			},
		},
		{
			name: "TiesKeepFirst",
			in: []PointMatch{
				{A: 0, B: 0, Distance: 0.01},
				{A: 1, B: 0, Distance: 0.01},
				{A: 1, B: 1, Distance: 0.04},
			},
			want: []PointMatch{
				{A: 0, B: 0, Distance: 0.01},
				{A: 1, B: 1, Distance: 0.04},
			},
		},
		{
			name: "RepeatedPair",
			in: []PointMatch{
				{A: 4, B: 4, Distance: 0.03},
				{A: 4, B: 4, Distance: 0.01},
			},
			want: []PointMatch{{A: 4, B: 4, Distance: 0.01}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dedupOneToOne(tt.in))
		})
	}
}
