package dualtree

import (
	"encoding/gob"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(&NearestNeighborState{})
}

// Neighbor is one nearest-neighbor candidate: a reference point (as a row
// index in the originally built reference tree) and its distance.
type Neighbor struct {
	Index    int
	Distance float64
}

// NearestNeighborRule finds the K nearest reference points for every query
// point. Candidate lists are kept sorted by (distance, index), so results
// are deterministic under any traversal order and any merge order.
type NearestNeighborRule struct {
	query, ref *SpaceTree
	metric     Metric
	k          int

	// neighbors[g] holds the current best candidates for the query point
	// whose global row index (original tree order) is g.
	neighbors [][]Neighbor
}

// NewNearestNeighborRule returns a rule finding the k nearest neighbors in
// ref for every point of query. Both trees must share a dimensionality.
func NewNearestNeighborRule(query, ref *SpaceTree, k int) *NearestNeighborRule {
	return &NearestNeighborRule{
		query:     query,
		ref:       ref,
		metric:    query.Bound(query.Root()).Metric(),
		k:         k,
		neighbors: make([][]Neighbor, query.Offset()+query.NumRows()),
	}
}

// Score prunes when the minimum distance between the two bounds exceeds the
// worst current k-th candidate distance of every query point in the node.
// A query point still missing candidates makes the pair unprunable.
func (r *NearestNeighborRule) Score(queryNode, refNode int) float64 {
	minDist := r.query.Bound(queryNode).MinDistance(r.ref.Bound(refNode))

	worst := 0.0
	for i := r.query.Begin(queryNode); i < r.query.End(queryNode); i++ {
		cand := r.neighbors[r.query.Offset()+i]
		if len(cand) < r.k {
			return minDist // this point still needs candidates
		}
		if d := cand[len(cand)-1].Distance; d > worst {
			worst = d
		}
	}
	if minDist > worst {
		return PruneScore
	}
	return minDist
}

func (r *NearestNeighborRule) BaseCase(queryPoint, refPoint int) {
	d := r.metric.Distance(r.query.PointRow(queryPoint), r.ref.PointRow(refPoint))
	g := r.query.Offset() + queryPoint
	r.neighbors[g] = insertNeighbor(r.neighbors[g], r.k, Neighbor{
		Index:    r.ref.Offset() + refPoint,
		Distance: d,
	})
}

// Results returns per-query-point neighbor indices and distances, each
// sorted ascending by distance (ties broken by index). Row g of the output
// corresponds to the query tree's row g in tree order.
func (r *NearestNeighborRule) Results() (indices [][]int, distances [][]float64) {
	indices = make([][]int, len(r.neighbors))
	distances = make([][]float64, len(r.neighbors))
	for g, cand := range r.neighbors {
		idx := make([]int, len(cand))
		dist := make([]float64, len(cand))
		for i, nb := range cand {
			idx[i] = nb.Index
			dist[i] = nb.Distance
		}
		indices[g] = idx
		distances[g] = dist
	}
	return indices, distances
}

// NearestNeighborState is the transportable snapshot of a
// NearestNeighborRule.
type NearestNeighborState struct {
	K         int
	Neighbors [][]Neighbor
}

func (r *NearestNeighborRule) Snapshot() RuleState {
	s := &NearestNeighborState{
		K:         r.k,
		Neighbors: make([][]Neighbor, len(r.neighbors)),
	}
	for g, cand := range r.neighbors {
		s.Neighbors[g] = append([]Neighbor(nil), cand...)
	}
	return s
}

func (r *NearestNeighborRule) Merge(other RuleState) error {
	s, ok := other.(*NearestNeighborState)
	if !ok {
		return errors.Errorf("dualtree: merging %T into NearestNeighborRule", other)
	}
	if len(s.Neighbors) != len(r.neighbors) {
		return errors.Errorf("dualtree: merging neighbor table of %d rows into %d rows",
			len(s.Neighbors), len(r.neighbors))
	}
	for g, cand := range s.Neighbors {
		for _, nb := range cand {
			r.neighbors[g] = insertNeighbor(r.neighbors[g], r.k, nb)
		}
	}
	return nil
}

// NewRule rebuilds a working rule from the snapshot, bound to the given
// (possibly extracted) trees.
func (s *NearestNeighborState) NewRule(query, ref *SpaceTree) TransportableRule {
	r := &NearestNeighborRule{
		query:     query,
		ref:       ref,
		metric:    query.Bound(query.Root()).Metric(),
		k:         s.K,
		neighbors: make([][]Neighbor, len(s.Neighbors)),
	}
	for g, cand := range s.Neighbors {
		r.neighbors[g] = append([]Neighbor(nil), cand...)
	}
	return r
}

// insertNeighbor adds nb to a candidate list kept sorted by (distance,
// index), deduplicated by index, and trimmed to k entries.
func insertNeighbor(cand []Neighbor, k int, nb Neighbor) []Neighbor {
	for _, c := range cand {
		if c.Index == nb.Index {
			return cand
		}
	}
	pos := len(cand)
	for i, c := range cand {
		if nb.Distance < c.Distance || (nb.Distance == c.Distance && nb.Index < c.Index) {
			pos = i
			break
		}
	}
	if pos >= k {
		return cand
	}
	cand = append(cand, Neighbor{})
	copy(cand[pos+1:], cand[pos:])
	cand[pos] = nb
	if len(cand) > k {
		cand = cand[:k]
	}
	return cand
}
