package match

import (
	"sort"

	"hypermatch/internal/hypergraph"
	"hypermatch/internal/keypoint"
	"hypermatch/internal/similarity"
)

// PointMatch pairs point A of image A with point B of image B.
type PointMatch struct {
	A        int     `json:"a"`
	B        int     `json:"b"`
	Distance float64 `json:"distance"` // Descriptor distance
}

// MatchPoints pairs the vertices of each matched edge. The vertices of the B
// edge are ordered to minimize the total descriptor distance to the A edge,
// then each of the three pairings is kept when its distance is below
// threshold. Results follow edge order, then vertex order of the A edge,
// before dedup is applied.
func MatchPoints(edges []EdgeMatch, ga, gb *hypergraph.Hypergraph, a, b *keypoint.Set, threshold float64, dedup Dedup) []PointMatch {
	var out []PointMatch
	for _, em := range edges {
		eA := ga.Edges[em.EdgeA]
		eB := gb.Edges[em.EdgeB]
		perm, _ := similarity.BestPairing(eA, eB, a, b)
		for k := 0; k < 3; k++ {
			ia, ib := eA[k], eB[perm[k]]
			d := similarity.DescriptorDistance(a.Descriptor(ia), b.Descriptor(ib))
			if d < threshold {
				out = append(out, PointMatch{A: ia, B: ib, Distance: d})
			}
		}
	}

	switch dedup {
	case DedupPairs:
		return dedupPairs(out)
	case DedupOneToOne:
		return dedupOneToOne(out)
	default:
		return out
	}
}

// dedupPairs keeps the first occurrence of each (A, B) pair, lowered to the
// smallest distance seen for it.
func dedupPairs(in []PointMatch) []PointMatch {
	if len(in) == 0 {
		return in
	}
	pos := make(map[[2]int]int, len(in))
	out := make([]PointMatch, 0, len(in))
	for _, pm := range in {
		key := [2]int{pm.A, pm.B}
		if k, ok := pos[key]; ok {
			if pm.Distance < out[k].Distance {
				out[k].Distance = pm.Distance
			}
			continue
		}
		pos[key] = len(out)
		out = append(out, pm)
	}
	return out
}

// dedupOneToOne greedily accepts pairs by ascending distance, earlier pairs
// first on ties, skipping any whose A or B point is already taken. Accepted
// pairs are returned in their original order.
func dedupOneToOne(in []PointMatch) []PointMatch {
	if len(in) == 0 {
		return in
	}
	order := make([]int, len(in))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return in[order[x]].Distance < in[order[y]].Distance
	})

	usedA := make(map[int]bool)
	usedB := make(map[int]bool)
	keep := make([]bool, len(in))
	for _, i := range order {
		pm := in[i]
		if usedA[pm.A] || usedB[pm.B] {
			continue
		}
		usedA[pm.A], usedB[pm.B] = true, true
		keep[i] = true
	}

	out := make([]PointMatch, 0, len(usedA))
	for i, pm := range in {
		if keep[i] {
			out = append(out, pm)
		}
	}
	return out
}
