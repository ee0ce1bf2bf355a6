// Package view provides typed, shape-aware, non-owning views over contiguous
// memory regions. A view carries the memory space its buffer lives in; API
// boundaries that cross spaces check accessibility instead of assuming it.
package view

import (
	"github.com/csadorf/raft"
)

// MemorySpace tags where a buffer lives.
type MemorySpace uint8

const (
	// Host memory is only accessible from host-side code.
	Host MemorySpace = iota
	// Device memory belongs to an accelerator's pool.
	Device
	// Unified memory is addressable from both sides.
	Unified
)

func (s MemorySpace) String() string {
	switch s {
	case Host:
		return "host"
	case Device:
		return "device"
	case Unified:
		return "unified"
	default:
		return "unknown"
	}
}

// DeviceAccessible reports whether kernels may touch buffers in this space.
func (s MemorySpace) DeviceAccessible() bool {
	return s == Device || s == Unified
}

// HostAccessible reports whether host code may touch buffers in this space.
func (s MemorySpace) HostAccessible() bool {
	return s == Host || s == Unified
}

// Element constrains the element types views can carry.
type Element interface {
	float32 | uint8 | uint16 | int64
}

// Vector is a non-owning 1-D view.
type Vector[T Element] struct {
	data  []T
	space MemorySpace
}

// NewVector wraps data as a 1-D view in the given space.
func NewVector[T Element](data []T, space MemorySpace) Vector[T] {
	return Vector[T]{data: data, space: space}
}

// Len returns the element count.
func (v Vector[T]) Len() int { return len(v.data) }

// Space returns the view's memory space.
func (v Vector[T]) Space() MemorySpace { return v.space }

// Data exposes the backing slice.
func (v Vector[T]) Data() []T { return v.data }

// Matrix is a non-owning row-major 2-D view with an explicit row stride.
type Matrix[T Element] struct {
	data   []T
	rows   int
	cols   int
	stride int
	space  MemorySpace
}

// NewMatrix wraps data as a dense rows x cols view (stride == cols).
func NewMatrix[T Element](data []T, rows, cols int, space MemorySpace) (Matrix[T], error) {
	return NewMatrixStrided(data, rows, cols, cols, space)
}

// NewMatrixStrided wraps data as a rows x cols view with the given row stride.
// The buffer must cover the last addressable element.
func NewMatrixStrided[T Element](data []T, rows, cols, stride int, space MemorySpace) (Matrix[T], error) {
	if rows < 0 || cols < 0 {
		return Matrix[T]{}, raft.ConfigErrorf("negative extent: rows %d, cols %d", rows, cols)
	}
	if stride < cols {
		return Matrix[T]{}, raft.ConfigErrorf("stride %d smaller than cols %d", stride, cols)
	}
	if rows > 0 && cols > 0 {
		need := (rows-1)*stride + cols
		if len(data) < need {
			return Matrix[T]{}, raft.ConfigErrorf("buffer too small: have %d elements, need %d", len(data), need)
		}
	}
	return Matrix[T]{data: data, rows: rows, cols: cols, stride: stride, space: space}, nil
}

// Rows returns the row count.
func (m Matrix[T]) Rows() int { return m.rows }

// Cols returns the column count.
func (m Matrix[T]) Cols() int { return m.cols }

// Stride returns the row stride in elements.
func (m Matrix[T]) Stride() int { return m.stride }

// Space returns the view's memory space.
func (m Matrix[T]) Space() MemorySpace { return m.space }

// Data exposes the backing slice.
func (m Matrix[T]) Data() []T { return m.data }

// IsEmpty reports whether the view covers no elements.
func (m Matrix[T]) IsEmpty() bool { return m.rows == 0 || m.cols == 0 }

// Row returns row i without copying. The slice aliases the view's buffer.
func (m Matrix[T]) Row(i int) []T {
	start := i * m.stride
	return m.data[start : start+m.cols : start+m.cols]
}

// At returns the element at (i, j).
func (m Matrix[T]) At(i, j int) T {
	return m.data[i*m.stride+j]
}

// SliceRows returns the sub-view covering rows [from, to).
func (m Matrix[T]) SliceRows(from, to int) (Matrix[T], error) {
	if from < 0 || to < from || to > m.rows {
		return Matrix[T]{}, raft.ConfigErrorf("row slice [%d, %d) out of range [0, %d)", from, to, m.rows)
	}
	sub := m
	sub.rows = to - from
	if sub.rows > 0 {
		sub.data = m.data[from*m.stride:]
	}
	return sub, nil
}
