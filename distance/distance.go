// Package distance provides the public API for vector distance calculations.
// Hot loops delegate to the SIMD-backed kernels in internal/math32.
package distance

import (
	"fmt"
	"slices"

	"github.com/csadorf/raft/internal/math32"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	return math32.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	return math32.SquaredL2(a, b)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := math32.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	math32.ScaleInPlace(v, 1/math32.Norm(v))
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	// L2Expanded computes squared L2 via the expansion
	// ||a||^2 - 2*a.b + ||b||^2, trading a little precision for a
	// matrix-multiply formulation.
	L2Expanded Metric = iota
	// L2Unexpanded computes squared L2 directly from the differences.
	L2Unexpanded
	// InnerProduct ranks by similarity; larger dot products are closer.
	InnerProduct
)

func (m Metric) String() string {
	switch m {
	case L2Expanded:
		return "L2Expanded"
	case L2Unexpanded:
		return "L2Unexpanded"
	case InnerProduct:
		return "InnerProduct"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// IsL2 reports whether the metric belongs to the Euclidean family.
func (m Metric) IsL2() bool {
	return m == L2Expanded || m == L2Unexpanded
}

// Func scores a pair of vectors; smaller is closer for every metric.
type Func func(a, b []float32) float32

// Provider returns the scoring function for the given metric.
// For InnerProduct the score is the negated dot product, so that all metrics
// order candidates ascending.
func Provider(m Metric) (Func, error) {
	switch m {
	case L2Expanded, L2Unexpanded:
		return SquaredL2, nil
	case InnerProduct:
		return func(a, b []float32) float32 { return -math32.Dot(a, b) }, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}
