package dualtree

import (
	"sort"

	"github.com/keegancsmith/nth"
)

// SplitStrategy decides whether and where to partition a contiguous row
// range, reordering the underlying data in place. Implementations may carry
// mutable working state; one instance is reused for the whole build.
type SplitStrategy interface {
	// SplitNode partitions rows [begin, begin+count) of data so that rows
	// [begin, splitIndex) and [splitIndex, begin+count) form the two sides
	// of the split. oldFromNew, when non-nil, is kept in sync with every
	// row swap. Returns ok=false when no valid split exists (for example,
	// all points coincide); the range is left unchanged in that case.
	SplitNode(bound Bound, data []float64, dims, begin, count int, oldFromNew []int) (splitIndex int, ok bool)
}

// MidpointSplit splits on the bound's widest dimension at the midpoint of
// that dimension's extent, partitioning rows in place. It fails on ranges
// with zero width in every dimension.
type MidpointSplit struct{}

func (MidpointSplit) SplitNode(bound Bound, data []float64, dims, begin, count int, oldFromNew []int) (int, bool) {
	rb, okBound := bound.(*RectBound)
	var lo, hi []float64
	if okBound {
		lo, hi = rb.Min, rb.Max
	} else {
		lo, hi = rangeExtents(data, dims, begin, begin+count)
	}

	splitDim, width := 0, -1.0
	for d := 0; d < dims; d++ {
		if w := hi[d] - lo[d]; w > width {
			width = w
			splitDim = d
		}
	}
	if width <= 0 {
		return 0, false
	}
	splitVal := lo[splitDim] + width/2

	// Hoare-style partition: rows with value < splitVal move left.
	left := begin
	right := begin + count - 1
	for left <= right {
		for left <= right && data[left*dims+splitDim] < splitVal {
			left++
		}
		for left <= right && data[right*dims+splitDim] >= splitVal {
			right--
		}
		if left < right {
			swapRows(data, dims, left, right, oldFromNew)
			left++
			right--
		}
	}
	if left == begin || left == begin+count {
		// Degenerate midpoint; no progress possible on this dimension.
		return 0, false
	}
	return left, true
}

// MedianSplit splits on the dimension with the greatest spread at the median
// row, using linear-time selection. It fails only when the chosen dimension
// has zero spread.
type MedianSplit struct{}

func (MedianSplit) SplitNode(bound Bound, data []float64, dims, begin, count int, oldFromNew []int) (int, bool) {
	lo, hi := rangeExtents(data, dims, begin, begin+count)
	splitDim, spread := 0, -1.0
	for d := 0; d < dims; d++ {
		if s := hi[d] - lo[d]; s > spread {
			spread = s
			splitDim = d
		}
	}
	if spread <= 0 {
		return 0, false
	}

	mid := count / 2
	view := &rowView{data: data, dims: dims, begin: begin, count: count, dim: splitDim, oldFromNew: oldFromNew}
	nth.Element(view, mid)

	// Selection may leave duplicates of the median value on both sides;
	// shift the boundary so equal values stay on the right partition.
	splitVal := data[(begin+mid)*dims+splitDim]
	split := begin + mid
	for split > begin && data[(split-1)*dims+splitDim] == splitVal {
		split--
	}
	if split == begin {
		// The median equals the minimum; keep equal values on the left and
		// push strictly larger rows right instead.
		left := begin
		for i := begin; i < begin+count; i++ {
			if data[i*dims+splitDim] <= splitVal {
				swapRows(data, dims, left, i, oldFromNew)
				left++
			}
		}
		if left == begin+count {
			return 0, false
		}
		return left, true
	}
	return split, true
}

// rowView adapts a contiguous row range to sort.Interface, comparing by one
// dimension and swapping whole rows together with the permutation map.
type rowView struct {
	data       []float64
	dims       int
	begin      int
	count      int
	dim        int
	oldFromNew []int
}

func (v *rowView) Len() int { return v.count }

func (v *rowView) Less(i, j int) bool {
	return v.data[(v.begin+i)*v.dims+v.dim] < v.data[(v.begin+j)*v.dims+v.dim]
}

func (v *rowView) Swap(i, j int) {
	swapRows(v.data, v.dims, v.begin+i, v.begin+j, v.oldFromNew)
}

var _ sort.Interface = (*rowView)(nil)

// swapRows exchanges rows i and j of flat row-major data, keeping the
// permutation map in sync when present.
func swapRows(data []float64, dims, i, j int, oldFromNew []int) {
	ri := data[i*dims : (i+1)*dims]
	rj := data[j*dims : (j+1)*dims]
	for d := 0; d < dims; d++ {
		ri[d], rj[d] = rj[d], ri[d]
	}
	if oldFromNew != nil {
		oldFromNew[i], oldFromNew[j] = oldFromNew[j], oldFromNew[i]
	}
}

// rangeExtents computes per-dimension min and max over rows [begin, end).
func rangeExtents(data []float64, dims, begin, end int) (lo, hi []float64) {
	lo = make([]float64, dims)
	hi = make([]float64, dims)
	copy(lo, data[begin*dims:(begin+1)*dims])
	copy(hi, lo)
	for i := begin + 1; i < end; i++ {
		row := data[i*dims : (i+1)*dims]
		for d, v := range row {
			if v < lo[d] {
				lo[d] = v
			}
			if v > hi[d] {
				hi[d] = v
			}
		}
	}
	return lo, hi
}
