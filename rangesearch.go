package dualtree

import (
	"encoding/gob"
	"sort"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(&RangeState{})
}

// RangeRule collects, for every query point, all reference points within a
// fixed radius (inclusive). Result rows are kept sorted by reference index,
// so results are deterministic under any traversal and merge order.
type RangeRule struct {
	query, ref *SpaceTree
	metric     Metric
	radius     float64

	// within[g] lists in-range reference points for the query point whose
	// global row index is g.
	within [][]Neighbor
}

// NewRangeRule returns a rule collecting every reference point within
// radius of each query point.
func NewRangeRule(query, ref *SpaceTree, radius float64) *RangeRule {
	return &RangeRule{
		query:  query,
		ref:    ref,
		metric: query.Bound(query.Root()).Metric(),
		radius: radius,
		within: make([][]Neighbor, query.Offset()+query.NumRows()),
	}
}

func (r *RangeRule) Score(queryNode, refNode int) float64 {
	minDist := r.query.Bound(queryNode).MinDistance(r.ref.Bound(refNode))
	if minDist > r.radius {
		return PruneScore
	}
	return minDist
}

func (r *RangeRule) BaseCase(queryPoint, refPoint int) {
	d := r.metric.Distance(r.query.PointRow(queryPoint), r.ref.PointRow(refPoint))
	if d > r.radius {
		return
	}
	g := r.query.Offset() + queryPoint
	r.within[g] = insertByIndex(r.within[g], Neighbor{
		Index:    r.ref.Offset() + refPoint,
		Distance: d,
	})
}

// Results returns per-query-point in-range reference indices and distances,
// sorted ascending by reference index.
func (r *RangeRule) Results() (indices [][]int, distances [][]float64) {
	indices = make([][]int, len(r.within))
	distances = make([][]float64, len(r.within))
	for g, found := range r.within {
		idx := make([]int, len(found))
		dist := make([]float64, len(found))
		for i, nb := range found {
			idx[i] = nb.Index
			dist[i] = nb.Distance
		}
		indices[g] = idx
		distances[g] = dist
	}
	return indices, distances
}

// RangeState is the transportable snapshot of a RangeRule.
type RangeState struct {
	Radius float64
	Within [][]Neighbor
}

func (r *RangeRule) Snapshot() RuleState {
	s := &RangeState{
		Radius: r.radius,
		Within: make([][]Neighbor, len(r.within)),
	}
	for g, found := range r.within {
		s.Within[g] = append([]Neighbor(nil), found...)
	}
	return s
}

func (r *RangeRule) Merge(other RuleState) error {
	s, ok := other.(*RangeState)
	if !ok {
		return errors.Errorf("dualtree: merging %T into RangeRule", other)
	}
	if len(s.Within) != len(r.within) {
		return errors.Errorf("dualtree: merging range table of %d rows into %d rows",
			len(s.Within), len(r.within))
	}
	for g, found := range s.Within {
		for _, nb := range found {
			r.within[g] = insertByIndex(r.within[g], nb)
		}
	}
	return nil
}

func (s *RangeState) NewRule(query, ref *SpaceTree) TransportableRule {
	r := &RangeRule{
		query:  query,
		ref:    ref,
		metric: query.Bound(query.Root()).Metric(),
		radius: s.Radius,
		within: make([][]Neighbor, len(s.Within)),
	}
	for g, found := range s.Within {
		r.within[g] = append([]Neighbor(nil), found...)
	}
	return r
}

// insertByIndex adds nb to a list kept sorted and deduplicated by reference
// index.
func insertByIndex(found []Neighbor, nb Neighbor) []Neighbor {
	pos := sort.Search(len(found), func(i int) bool { return found[i].Index >= nb.Index })
	if pos < len(found) && found[pos].Index == nb.Index {
		return found
	}
	found = append(found, Neighbor{})
	copy(found[pos+1:], found[pos:])
	found[pos] = nb
	return found
}
