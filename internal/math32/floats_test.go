package math32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	assert.InDelta(t, float32(70), Dot(a, b), 1e-5)
}

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}
	assert.InDelta(t, float32(25), SquaredL2(a, b), 1e-4)
	assert.InDelta(t, float32(0), SquaredL2(a, a), 1e-6)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, float32(5), Norm([]float32{3, 4}), 1e-5)
}

func TestScaleInPlace(t *testing.T) {
	a := []float32{1, -2, 4}
	ScaleInPlace(a, 0.5)
	assert.Equal(t, []float32{0.5, -1, 2}, a)
}

func TestSubInto(t *testing.T) {
	dst := make([]float32, 3)
	SubInto(dst, []float32{5, 5, 5}, []float32{1, 2, 3})
	assert.Equal(t, []float32{4, 3, 2}, dst)
}

func TestAxpyInPlace(t *testing.T) {
	y := []float32{1, 1}
	AxpyInPlace(y, 2, []float32{3, 4})
	assert.Equal(t, []float32{7, 9}, y)
}

func TestArgMin(t *testing.T) {
	require.Equal(t, -1, ArgMin(nil))
	assert.Equal(t, 2, ArgMin([]float32{3, 1, 0, 2}))

	// Ties resolve to the lowest index.
	assert.Equal(t, 1, ArgMin([]float32{5, 2, 2, 2}))
}
