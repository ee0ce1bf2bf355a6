package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csadorf/raft"
)

func TestMemorySpace(t *testing.T) {
	assert.True(t, Host.HostAccessible())
	assert.False(t, Host.DeviceAccessible())
	assert.True(t, Device.DeviceAccessible())
	assert.False(t, Device.HostAccessible())
	assert.True(t, Unified.HostAccessible())
	assert.True(t, Unified.DeviceAccessible())

	assert.Equal(t, "host", Host.String())
	assert.Equal(t, "device", Device.String())
	assert.Equal(t, "unified", Unified.String())
}

func TestNewMatrix(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	m, err := NewMatrix(data, 2, 3, Host)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 3, m.Cols())
	assert.Equal(t, 3, m.Stride())
	assert.Equal(t, Host, m.Space())
	assert.False(t, m.IsEmpty())

	assert.Equal(t, []float32{4, 5, 6}, m.Row(1))
	assert.Equal(t, float32(2), m.At(0, 1))
}

func TestNewMatrix_BufferTooSmall(t *testing.T) {
	_, err := NewMatrix(make([]float32, 5), 2, 3, Host)
	assert.ErrorIs(t, err, raft.ErrBadConfig)
}

func TestNewMatrix_NegativeExtent(t *testing.T) {
	_, err := NewMatrix([]float32{}, -1, 3, Host)
	assert.ErrorIs(t, err, raft.ErrBadConfig)
}

func TestNewMatrixStrided(t *testing.T) {
	// 2x2 view over rows padded to stride 4.
	data := []uint8{1, 2, 0, 0, 3, 4}
	m, err := NewMatrixStrided(data, 2, 2, 4, Device)
	require.NoError(t, err)

	assert.Equal(t, []uint8{1, 2}, m.Row(0))
	assert.Equal(t, []uint8{3, 4}, m.Row(1))

	_, err = NewMatrixStrided(data, 2, 4, 2, Device)
	assert.ErrorIs(t, err, raft.ErrBadConfig)
}

func TestRowAliasesBuffer(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	m, err := NewMatrix(data, 2, 2, Unified)
	require.NoError(t, err)

	m.Row(0)[1] = 42
	assert.Equal(t, float32(42), data[1])

	// The row slice is capped at the row's extent.
	row := m.Row(0)
	assert.Equal(t, 2, cap(row))
}

func TestSliceRows(t *testing.T) {
	data := []int64{10, 20, 30, 40, 50, 60}
	m, err := NewMatrix(data, 3, 2, Host)
	require.NoError(t, err)

	sub, err := m.SliceRows(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Rows())
	assert.Equal(t, []int64{30, 40}, sub.Row(0))

	_, err = m.SliceRows(2, 4)
	assert.ErrorIs(t, err, raft.ErrBadConfig)

	empty, err := m.SliceRows(1, 1)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestVector(t *testing.T) {
	v := NewVector([]float32{1, 2, 3}, Device)
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, Device, v.Space())
	assert.Equal(t, []float32{1, 2, 3}, v.Data())
}
