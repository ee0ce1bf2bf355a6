package linalg

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/csadorf/raft"
	"github.com/csadorf/raft/distance"
	"github.com/csadorf/raft/internal/math32"
	"github.com/csadorf/raft/view"
)

// checkOperands validates the shape and memory-space contract of a pairwise
// operation over a [aRows x dim] and b [bRows x dim].
func checkOperands(a, b view.Matrix[float32], out []float32) error {
	if a.Cols() != b.Cols() {
		return &raft.ErrDimensionMismatch{Expected: a.Cols(), Actual: b.Cols()}
	}
	if len(out) < a.Rows()*b.Rows() {
		return raft.ConfigErrorf("output buffer too small: have %d, need %d", len(out), a.Rows()*b.Rows())
	}
	sameSide := (a.Space().DeviceAccessible() && b.Space().DeviceAccessible()) ||
		(a.Space().HostAccessible() && b.Space().HostAccessible())
	if !sameSide {
		return raft.ExecErrorf("operands live in incompatible memory spaces: %v vs %v", a.Space(), b.Space())
	}
	return nil
}

// Gemm fills out with the pairwise dot products of the rows of a and b:
// out[i*b.Rows()+j] = a.Row(i) . b.Row(j). Rows of a are distributed over
// the handle's worker budget.
func Gemm(ctx context.Context, h *raft.Handle, a, b view.Matrix[float32], out []float32) error {
	return evaluatePairwise(ctx, h, LinearKernel{}, a, b, out)
}

// PairwiseDistance fills out with the metric's distances between every row
// of a and every row of b, out[i*b.Rows()+j] = dist(a_i, b_j).
//
// L2Expanded goes through the gram matrix plus precomputed row norms; the
// other metrics evaluate row pairs directly. The expanded form can go
// slightly negative from cancellation; it is clamped at zero.
func PairwiseDistance(ctx context.Context, h *raft.Handle, metric distance.Metric, a, b view.Matrix[float32], out []float32) error {
	if metric == distance.L2Expanded {
		return l2Expanded(ctx, h, a, b, out)
	}
	kern, ok := KernelFor(metric)
	if !ok {
		return raft.ExecErrorf("unsupported metric for pairwise distance: %v", metric)
	}
	return evaluatePairwise(ctx, h, kern, a, b, out)
}

func evaluatePairwise(ctx context.Context, h *raft.Handle, kern Kernel, a, b view.Matrix[float32], out []float32) error {
	if err := checkOperands(a, b, out); err != nil {
		return err
	}
	if a.IsEmpty() || b.IsEmpty() {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.Resources().MaxWorkers())

	n := b.Rows()
	for i := 0; i < a.Rows(); i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ai := a.Row(i)
			row := out[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				row[j] = kern.Evaluate(ai, b.Row(j))
			}
			return nil
		})
	}
	return g.Wait()
}

func l2Expanded(ctx context.Context, h *raft.Handle, a, b view.Matrix[float32], out []float32) error {
	if err := checkOperands(a, b, out); err != nil {
		return err
	}
	if a.IsEmpty() || b.IsEmpty() {
		return nil
	}

	bNorms := make([]float32, b.Rows())
	for j := range bNorms {
		r := b.Row(j)
		bNorms[j] = math32.Dot(r, r)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.Resources().MaxWorkers())

	n := b.Rows()
	for i := 0; i < a.Rows(); i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ai := a.Row(i)
			aNorm := math32.Dot(ai, ai)
			row := out[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				d := aNorm - 2*math32.Dot(ai, b.Row(j)) + bNorms[j]
				if d < 0 {
					d = 0
				}
				row[j] = d
			}
			return nil
		})
	}
	return g.Wait()
}

// MatVec computes out = m * x for a row-major m [rows x cols], x [cols].
func MatVec(m view.Matrix[float32], x, out []float32) error {
	if m.Cols() != len(x) {
		return &raft.ErrDimensionMismatch{Expected: m.Cols(), Actual: len(x)}
	}
	if len(out) < m.Rows() {
		return raft.ConfigErrorf("output buffer too small: have %d, need %d", len(out), m.Rows())
	}
	for i := 0; i < m.Rows(); i++ {
		out[i] = math32.Dot(m.Row(i), x)
	}
	return nil
}
