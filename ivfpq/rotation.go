package ivfpq

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// trainRotation fills idx.rotation. When the rotated space equals the input
// space and no rotation was forced, the transform is the identity. Otherwise
// a random matrix with orthonormal columns is generated by Gram-Schmidt so
// the transform preserves distances while spreading variance across
// sub-vector slices.
func (idx *Index) trainRotation(force bool, seed int64) {
	for i := range idx.rotation {
		idx.rotation[i] = 0
	}
	if idx.rotDim == idx.dim && !force {
		for i := 0; i < idx.dim; i++ {
			idx.rotation[i*idx.dim+i] = 1
		}
		return
	}

	rng := rand.New(rand.NewSource(seed))
	cols := make([][]float32, 0, idx.dim)
	for j := 0; j < idx.dim; j++ {
		cols = append(cols, orthonormalColumn(cols, idx.rotDim, rng))
	}
	for j, col := range cols {
		for i, v := range col {
			idx.rotation[i*idx.dim+j] = v
		}
	}
}

// orthonormalColumn draws a Gaussian vector and projects out the existing
// columns. Degenerate draws are retried; after too many the basis vector for
// the next free axis is used.
func orthonormalColumn(existing [][]float32, n int, rng *rand.Rand) []float32 {
	const maxAttempts = 100

	for attempt := 0; attempt < maxAttempts; attempt++ {
		v := make([]float32, n)
		for i := range v {
			v[i] = float32(rng.NormFloat64())
		}
		vec := blas32.Vector{N: n, Inc: 1, Data: v}
		for _, e := range existing {
			d := blas32.Dot(vec, blas32.Vector{N: n, Inc: 1, Data: e})
			blas32.Axpy(-d, blas32.Vector{N: n, Inc: 1, Data: e}, vec)
		}
		if norm := blas32.Nrm2(vec); norm > 1e-6 {
			blas32.Scal(1/norm, vec)
			return v
		}
	}

	v := make([]float32, n)
	v[len(existing)%n] = 1
	return v
}

// rotate computes out = R x for one vector.
func (idx *Index) rotate(out, x []float32) {
	r := blas32.General{
		Rows:   idx.rotDim,
		Cols:   idx.dim,
		Stride: idx.dim,
		Data:   idx.rotation,
	}
	blas32.Gemv(blas.NoTrans, 1, r,
		blas32.Vector{N: idx.dim, Inc: 1, Data: x},
		0, blas32.Vector{N: idx.rotDim, Inc: 1, Data: out})
}

// unrotate computes out = R^T y, mapping a rotated vector back to the input
// space. R has orthonormal columns, so this inverts rotate up to the padding
// dimensions.
func (idx *Index) unrotate(out, y []float32) {
	r := blas32.General{
		Rows:   idx.rotDim,
		Cols:   idx.dim,
		Stride: idx.dim,
		Data:   idx.rotation,
	}
	blas32.Gemv(blas.Trans, 1, r,
		blas32.Vector{N: idx.rotDim, Inc: 1, Data: y},
		0, blas32.Vector{N: idx.dim, Inc: 1, Data: out})
}

// isOrthonormal verifies R^T R == I within tol. Used by tests.
func (idx *Index) isOrthonormal(tol float32) bool {
	for a := 0; a < idx.dim; a++ {
		for b := a; b < idx.dim; b++ {
			var dot float32
			for i := 0; i < idx.rotDim; i++ {
				dot += idx.rotation[i*idx.dim+a] * idx.rotation[i*idx.dim+b]
			}
			want := float32(0)
			if a == b {
				want = 1
			}
			if float32(math.Abs(float64(dot-want))) > tol {
				return false
			}
		}
	}
	return true
}
