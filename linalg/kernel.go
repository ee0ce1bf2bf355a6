// Package linalg implements the pairwise inner-product / gram-matrix
// primitive and the distances derived from it. It is the scoring building
// block for brute-force search, clustering assignment and the coarse stage
// of approximate search.
package linalg

import (
	"github.com/csadorf/raft/distance"
	"github.com/csadorf/raft/internal/math32"
)

// Kernel is one pairwise scoring variant. The set of variants is closed;
// callers select a kernel by capability, not by type hierarchy.
type Kernel interface {
	// Name identifies the variant in logs and errors.
	Name() string
	// Evaluate scores a single row pair. Lower is closer.
	Evaluate(a, b []float32) float32
}

// LinearKernel scores by raw dot product. It is the gram-matrix building
// block; larger values mean more aligned, so it is not an ordering kernel
// by itself.
type LinearKernel struct{}

func (LinearKernel) Name() string { return "linear" }

func (LinearKernel) Evaluate(a, b []float32) float32 {
	return math32.Dot(a, b)
}

// L2UnexpandedKernel computes squared L2 directly from element differences.
type L2UnexpandedKernel struct{}

func (L2UnexpandedKernel) Name() string { return "l2-unexpanded" }

func (L2UnexpandedKernel) Evaluate(a, b []float32) float32 {
	return math32.SquaredL2(a, b)
}

// InnerProductKernel orders by similarity: the negated dot product, so
// smaller scores are closer like every other kernel.
type InnerProductKernel struct{}

func (InnerProductKernel) Name() string { return "inner-product" }

func (InnerProductKernel) Evaluate(a, b []float32) float32 {
	return -math32.Dot(a, b)
}

// KernelFor returns the scoring kernel matching a metric. L2Expanded has no
// row-pair kernel; PairwiseDistance implements it over the gram matrix.
func KernelFor(m distance.Metric) (Kernel, bool) {
	switch m {
	case distance.L2Unexpanded, distance.L2Expanded:
		return L2UnexpandedKernel{}, true
	case distance.InnerProduct:
		return InnerProductKernel{}, true
	default:
		return nil, false
	}
}
