// Package math32 provides float32 vector kernels used by the distance and
// linalg packages. Hot paths are delegated to vek, which dispatches to
// AVX2/AVX-512 on x86-64 and falls back to portable code elsewhere.
// This is an internal package - external users should use the distance package.
package math32

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	return vek32.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	d := vek32.Distance(a, b)
	return d * d
}

// Norm returns the L2 norm of a.
func Norm(a []float32) float32 {
	return float32(math.Sqrt(float64(Dot(a, a))))
}

// ScaleInPlace multiplies all elements of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	vek32.MulNumber_Inplace(a, scalar)
}

// AddInPlace adds b to a element-wise.
func AddInPlace(a, b []float32) {
	vek32.Add_Inplace(a, b)
}

// SubInto stores a-b into dst. All three slices must have the same length.
func SubInto(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}

// AxpyInPlace computes y += alpha*x.
func AxpyInPlace(y []float32, alpha float32, x []float32) {
	for i := range y {
		y[i] += alpha * x[i]
	}
}

// ArgMin returns the index of the smallest element, breaking ties by the
// lowest index. Returns -1 for an empty slice.
func ArgMin(a []float32) int {
	if len(a) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(a); i++ {
		if a[i] < a[best] {
			best = i
		}
	}
	return best
}
