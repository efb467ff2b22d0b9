package dualtree

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Bound is a geometric region enclosing a contiguous range of dataset rows.
// A freshly constructed bound is empty; Grow expands it to cover additional
// rows. Bounds must have exported fields (or custom gob methods) so trees
// can be serialized and shipped between processes.
type Bound interface {
	// Grow expands the bound to cover rows [begin, end) of flat row-major
	// data with the given dimensionality.
	Grow(data []float64, dims, begin, end int)

	// Diameter returns the longest distance between two points of the bound.
	Diameter() float64

	// MinWidth returns the smallest width of the bound along any direction.
	MinWidth() float64

	// Centroid writes the representative center of the bound into dst,
	// which must have length equal to the bound's dimensionality.
	Centroid(dst []float64)

	// MinDistance returns a lower bound on the distance between any point
	// of this bound and any point of other.
	MinDistance(other Bound) float64

	// Metric returns the metric associated with this bound.
	Metric() Metric

	// Dims returns the bound's dimensionality.
	Dims() int

	// Clone returns an independent copy of the bound.
	Clone() Bound
}

// BoundFactory constructs an empty bound for the given dimensionality and
// metric. It is called once per node during tree construction.
type BoundFactory func(dims int, metric Metric) Bound

// RectBound is an axis-aligned hyperrectangle with per-dimension min/max.
type RectBound struct {
	Min, Max []float64
	M        Metric
}

// NewRectBound returns an empty axis-aligned rectangular bound.
func NewRectBound(dims int, metric Metric) Bound {
	b := &RectBound{
		Min: make([]float64, dims),
		Max: make([]float64, dims),
		M:   metric,
	}
	for d := range b.Min {
		b.Min[d] = math.Inf(1)
		b.Max[d] = math.Inf(-1)
	}
	return b
}

func (b *RectBound) Grow(data []float64, dims, begin, end int) {
	for i := begin; i < end; i++ {
		row := data[i*dims : (i+1)*dims]
		for d, v := range row {
			if v < b.Min[d] {
				b.Min[d] = v
			}
			if v > b.Max[d] {
				b.Max[d] = v
			}
		}
	}
}

func (b *RectBound) Diameter() float64 {
	return b.M.Distance(b.Min, b.Max)
}

func (b *RectBound) MinWidth() float64 {
	w := math.Inf(1)
	for d := range b.Min {
		if width := b.Max[d] - b.Min[d]; width < w {
			w = width
		}
	}
	if math.IsInf(w, 1) || w < 0 {
		return 0
	}
	return w
}

func (b *RectBound) Centroid(dst []float64) {
	floats.AddTo(dst, b.Min, b.Max)
	floats.Scale(0.5, dst)
}

// MinDistance computes the per-dimension gap between two rectangles and
// aggregates it with the bound's metric. A BallBound argument is handled by
// falling back to centroid distance minus radius.
func (b *RectBound) MinDistance(other Bound) float64 {
	switch o := other.(type) {
	case *RectBound:
		gap := make([]float64, len(b.Min))
		zero := make([]float64, len(b.Min))
		for d := range gap {
			g := math.Max(b.Min[d]-o.Max[d], o.Min[d]-b.Max[d])
			if g > 0 {
				gap[d] = g
			}
		}
		return b.M.Distance(gap, zero)
	default:
		return centroidMinDistance(b, other)
	}
}

func (b *RectBound) Metric() Metric { return b.M }
func (b *RectBound) Dims() int      { return len(b.Min) }

func (b *RectBound) Clone() Bound {
	c := &RectBound{
		Min: make([]float64, len(b.Min)),
		Max: make([]float64, len(b.Max)),
		M:   b.M,
	}
	copy(c.Min, b.Min)
	copy(c.Max, b.Max)
	return c
}

// BallBound is a ball described by a center and radius. The center is the
// mean of the covered points and the radius the largest distance from the
// center to any covered point.
type BallBound struct {
	Center []float64
	Radius float64
	Count  int // number of points folded into Center so far
	M      Metric
}

// NewBallBound returns an empty ball bound.
func NewBallBound(dims int, metric Metric) Bound {
	return &BallBound{
		Center: make([]float64, dims),
		M:      metric,
	}
}

func (b *BallBound) Grow(data []float64, dims, begin, end int) {
	if end <= begin {
		return
	}
	// Fold the new rows into the running mean.
	floats.Scale(float64(b.Count), b.Center)
	for i := begin; i < end; i++ {
		floats.Add(b.Center, data[i*dims:(i+1)*dims])
	}
	b.Count += end - begin
	floats.Scale(1/float64(b.Count), b.Center)

	for i := begin; i < end; i++ {
		if d := b.M.Distance(b.Center, data[i*dims:(i+1)*dims]); d > b.Radius {
			b.Radius = d
		}
	}
}

func (b *BallBound) Diameter() float64 { return 2 * b.Radius }
func (b *BallBound) MinWidth() float64 { return 2 * b.Radius }

func (b *BallBound) Centroid(dst []float64) { copy(dst, b.Center) }

func (b *BallBound) MinDistance(other Bound) float64 {
	return centroidMinDistance(b, other)
}

func (b *BallBound) Metric() Metric { return b.M }
func (b *BallBound) Dims() int      { return len(b.Center) }

func (b *BallBound) Clone() Bound {
	c := &BallBound{
		Center: make([]float64, len(b.Center)),
		Radius: b.Radius,
		Count:  b.Count,
		M:      b.M,
	}
	copy(c.Center, b.Center)
	return c
}

// centroidMinDistance lower-bounds the distance between two bounds as the
// centroid distance minus each side's furthest extent (half the diameter).
func centroidMinDistance(a, b Bound) float64 {
	ca := make([]float64, a.Dims())
	cb := make([]float64, b.Dims())
	a.Centroid(ca)
	b.Centroid(cb)
	d := a.Metric().Distance(ca, cb) - a.Diameter()/2 - b.Diameter()/2
	if d < 0 {
		return 0
	}
	return d
}
