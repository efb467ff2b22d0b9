package dualtree

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Metric computes the distance between two points of equal dimensionality.
type Metric interface {
	Distance(a, b []float64) float64
}

// DistanceFunc adapts a plain function into a Metric.
type DistanceFunc func(a, b []float64) float64

func (f DistanceFunc) Distance(a, b []float64) float64 { return f(a, b) }

// LMetric is the Minkowski L_p metric. P must be >= 1; use math.Inf(1) for
// the Chebyshev (L-infinity) metric. Panics if P < 1.
type LMetric struct {
	P float64
}

func (m LMetric) Distance(a, b []float64) float64 {
	if m.P < 1 {
		panic("LMetric: P must be >= 1")
	}
	return floats.Distance(a, b, m.P)
}

// Euclidean returns the L2 metric, the default for tree construction.
func Euclidean() Metric { return LMetric{P: 2} }

// Manhattan returns the L1 (city-block) metric.
func Manhattan() Metric { return LMetric{P: 1} }

// Chebyshev returns the L-infinity metric.
func Chebyshev() Metric { return LMetric{P: math.Inf(1)} }
