package ivfpq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csadorf/raft"
	"github.com/csadorf/raft/distance"
	"github.com/csadorf/raft/testutil"
	"github.com/csadorf/raft/view"
)

func newTestHandle(t *testing.T) *raft.Handle {
	t.Helper()
	h := raft.NewHandle(raft.WithLogger(raft.NoopLogger()))
	t.Cleanup(func() { h.Close() })
	return h
}

func randomDataset(t *testing.T, seed int64, n, dim int) view.Matrix[float32] {
	t.Helper()
	rng := testutil.NewRNG(seed)
	m, err := view.NewMatrix(rng.UniformVectors(n, dim), n, dim, view.Host)
	require.NoError(t, err)
	return m
}

func TestNewIndex_ValidCombinations(t *testing.T) {
	h := newTestHandle(t)

	for bits := 4; bits <= 8; bits++ {
		for _, pqDim := range []int{8, 16, 24, 32} {
			if pqDim*bits%8 != 0 {
				continue
			}
			idx, err := NewIndex(h, distance.L2Expanded, PerSubspace, 16, 64, bits, pqDim)
			require.NoError(t, err, "bits=%d pq_dim=%d", bits, pqDim)
			assert.NoError(t, idx.checkConsistency())
			assert.GreaterOrEqual(t, idx.RotDim(), idx.Dim())
			assert.Equal(t, idx.PQLen()*idx.PQDim(), idx.RotDim())
			assert.Equal(t, 0, idx.DimExt()%8)
			assert.Greater(t, idx.DimExt(), idx.Dim())
			idx.Close()
		}
	}
}

func TestNewIndex_InvalidCombinations(t *testing.T) {
	h := newTestHandle(t)

	// pq_bits out of range.
	_, err := NewIndex(h, distance.L2Expanded, PerSubspace, 16, 64, 3, 8)
	assert.ErrorIs(t, err, raft.ErrBadConfig)
	_, err = NewIndex(h, distance.L2Expanded, PerSubspace, 16, 64, 9, 8)
	assert.ErrorIs(t, err, raft.ErrBadConfig)

	// pq_dim*pq_bits not byte aligned: 5*6 = 30 bits.
	_, err = NewIndex(h, distance.L2Expanded, PerSubspace, 16, 64, 6, 5)
	assert.ErrorIs(t, err, raft.ErrBadConfig)

	// Degenerate shapes.
	_, err = NewIndex(h, distance.L2Expanded, PerSubspace, 0, 64, 8, 8)
	assert.ErrorIs(t, err, raft.ErrBadConfig)
	_, err = NewIndex(h, distance.L2Expanded, PerSubspace, 16, 0, 8, 8)
	assert.ErrorIs(t, err, raft.ErrBadConfig)
}

func TestNewIndex_DerivesPQDim(t *testing.T) {
	h := newTestHandle(t)

	idx, err := NewIndex(h, distance.L2Expanded, PerSubspace, 16, 256, 8, 0)
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, CalculatePQDim(256), idx.PQDim())
}

func TestBuild_OffsetsInvariant(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	data := randomDataset(t, 1, 600, 16)

	params := DefaultIndexParams()
	params.NLists = 8
	params.PQDim = 4
	params.KMeansNIters = 5
	params.Seed = 1

	idx, err := Build(ctx, h, params, data)
	require.NoError(t, err)
	defer idx.Close()

	offsets := idx.ListOffsets()
	require.Len(t, offsets, idx.NLists()+1)
	assert.Equal(t, int64(0), offsets[0])

	var sum int
	for l := 0; l < idx.NLists(); l++ {
		assert.LessOrEqual(t, offsets[l], offsets[l+1])
		sum += idx.ListSize(l)
	}
	assert.Equal(t, 600, sum)
	assert.Equal(t, 600, idx.Size())
	assert.Equal(t, int64(600), offsets[idx.NLists()])
	assert.LessOrEqual(t, idx.NNonemptyLists(), idx.NLists())
	assert.Positive(t, idx.NNonemptyLists())

	// Every original id appears exactly once.
	seen := make(map[int64]bool, 600)
	for l := 0; l < idx.NLists(); l++ {
		_, ids := idx.listRows(l)
		for _, id := range ids {
			assert.False(t, seen[id], "id %d stored twice", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 600)
}

func TestBuild_TrainOnlyThenExtend(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	data := randomDataset(t, 2, 400, 16)

	params := DefaultIndexParams()
	params.NLists = 8
	params.PQDim = 4
	params.KMeansNIters = 5
	params.AddDataOnBuild = false
	params.Seed = 2

	idx, err := Build(ctx, h, params, data)
	require.NoError(t, err)
	defer idx.Close()

	assert.True(t, idx.Trained())
	assert.Equal(t, 0, idx.Size())
	assert.Equal(t, 0, idx.NNonemptyLists())

	require.NoError(t, Extend(ctx, h, idx, data, nil))
	assert.Equal(t, 400, idx.Size())
	assert.Positive(t, idx.NNonemptyLists())
	assert.NoError(t, idx.checkConsistency())
}

func TestExtend_Validation(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	data := randomDataset(t, 3, 200, 16)

	untrained, err := NewIndex(h, distance.L2Expanded, PerSubspace, 8, 16, 8, 4)
	require.NoError(t, err)
	defer untrained.Close()
	assert.ErrorIs(t, Extend(ctx, h, untrained, data, nil), raft.ErrBadConfig)

	params := DefaultIndexParams()
	params.NLists = 8
	params.PQDim = 4
	params.KMeansNIters = 5
	idx, err := Build(ctx, h, params, data)
	require.NoError(t, err)
	defer idx.Close()

	wrongDim := randomDataset(t, 3, 10, 8)
	assert.ErrorIs(t, Extend(ctx, h, idx, wrongDim, nil), raft.ErrBadConfig)

	assert.ErrorIs(t, Extend(ctx, h, idx, data, make([]int64, 5)), raft.ErrBadConfig)

	// A failed call leaves the population intact.
	assert.Equal(t, 200, idx.Size())
	assert.NoError(t, idx.checkConsistency())
}

func TestExtend_PreservesExistingContent(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	first := randomDataset(t, 4, 300, 16)
	second := randomDataset(t, 5, 200, 16)

	params := DefaultIndexParams()
	params.NLists = 8
	params.PQDim = 4
	params.KMeansNIters = 5
	params.Seed = 4

	idx, err := Build(ctx, h, params, first)
	require.NoError(t, err)
	defer idx.Close()

	ids := make([]int64, 200)
	for i := range ids {
		ids[i] = int64(1000 + i)
	}
	require.NoError(t, Extend(ctx, h, idx, second, ids))

	assert.Equal(t, 500, idx.Size())
	seen := make(map[int64]bool, 500)
	for l := 0; l < idx.NLists(); l++ {
		_, listIDs := idx.listRows(l)
		for _, id := range listIDs {
			seen[id] = true
		}
	}
	for i := 0; i < 300; i++ {
		assert.True(t, seen[int64(i)], "build id %d lost", i)
	}
	for _, id := range ids {
		assert.True(t, seen[id], "extend id %d lost", id)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	dim := 16
	data := randomDataset(t, 6, 512, dim)

	// Reconstruction error shrinks as pq_bits grows, for fixed pq_dim.
	var prevErr float64
	for i, bits := range []int{4, 6, 8} {
		params := DefaultIndexParams()
		params.NLists = 4
		params.PQDim = 8
		params.PQBits = bits
		params.KMeansNIters = 8
		params.Seed = 6

		idx, err := Build(ctx, h, params, data)
		require.NoError(t, err)

		var totalErr float64
		dec := make([]float32, idx.RotDim())
		back := make([]float32, dim)
		codes := make([]uint32, idx.PQDim())
		cdc := newCodec(idx.PQDim(), idx.PQBits())
		for l := 0; l < idx.NLists(); l++ {
			rows, ids := idx.listRows(l)
			for r := range ids {
				cdc.unpack(codes, rows[r*idx.RowBytes():(r+1)*idx.RowBytes()])
				idx.decode(dec, codes, l)
				idx.unrotate(back, dec)

				orig := data.Row(int(ids[r]))
				for j := 0; j < dim; j++ {
					d := float64(back[j] - orig[j])
					totalErr += d * d
				}
			}
		}

		if i > 0 {
			assert.Less(t, totalErr, prevErr, "pq_bits=%d should reconstruct better", bits)
		}
		prevErr = totalErr
		idx.Close()
	}
}
